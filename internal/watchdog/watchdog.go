// Package watchdog implements the Resource Watchdog (C9): a periodic
// sampler of process memory and CPU that advises a parallelism ceiling to
// the worker pool.
//
// No repo in the reference pack samples process resource usage, so this
// reaches outside it for github.com/shirou/gopsutil/v3/process — a
// standard, widely used cross-platform process-metrics library, the
// natural analogue of the teacher's github.com/klauspost/cpuid/v2 (which
// probes CPU *features*, not live usage) for probing CPU *load*.
package watchdog

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const sampleInterval = 500 * time.Millisecond

// Snapshot is a point-in-time resource reading.
type Snapshot struct {
	MemoryBytes               uint64
	CPUFraction               float64
	CurrentParallelismCeiling int
	Throttled                 bool
}

// Watchdog samples the current process's working set and CPU fraction on
// a fixed interval and derives a parallelism ceiling from it. The zero
// value is not usable; construct with New.
type Watchdog struct {
	initialCeiling int64
	maxMemoryBytes int64 // 0 = uncapped

	ceiling  atomic.Int64
	snapshot atomic.Pointer[Snapshot]
	proc     *process.Process

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Watchdog advising initialCeiling workers until the
// first sample arrives. maxMemoryBytes of 0 disables the memory cap (the
// ceiling is then never throttled downward, only ever the initial value).
func New(initialCeiling int, maxMemoryBytes int64) (*Watchdog, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	w := &Watchdog{
		initialCeiling: int64(initialCeiling),
		maxMemoryBytes: maxMemoryBytes,
		proc:           proc,
		done:           make(chan struct{}),
	}
	w.ceiling.Store(int64(initialCeiling))
	w.snapshot.Store(&Snapshot{CurrentParallelismCeiling: initialCeiling})
	return w, nil
}

// Start begins sampling in the background until ctx is done or Stop is
// called.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(ctx)
}

// Stop halts sampling.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sample()
		}
	}
}

func (w *Watchdog) sample() {
	memInfo, err := w.proc.MemoryInfo()
	var rss uint64
	if err == nil && memInfo != nil {
		rss = memInfo.RSS
	} else {
		slog.Debug("watchdog: memory sample failed", "error", err)
	}

	cpuPct, err := w.proc.CPUPercent()
	if err != nil {
		slog.Debug("watchdog: cpu sample failed", "error", err)
		cpuPct = 0
	}

	throttled := false
	cur := w.ceiling.Load()

	if w.maxMemoryBytes > 0 && rss > uint64(w.maxMemoryBytes) {
		next := cur * 3 / 4
		if next < 1 {
			next = 1
		}
		w.ceiling.Store(next)
		cur = next
		throttled = true
	} else if w.maxMemoryBytes > 0 && rss < uint64(w.maxMemoryBytes)*85/100 && cur < w.initialCeiling {
		next := cur + 1
		if next > w.initialCeiling {
			next = w.initialCeiling
		}
		w.ceiling.Store(next)
		cur = next
	}

	w.snapshot.Store(&Snapshot{
		MemoryBytes:               rss,
		CPUFraction:               cpuPct / 100,
		CurrentParallelismCeiling: int(cur),
		Throttled:                 throttled,
	})
}

// Ceiling returns the current advised parallelism ceiling.
func (w *Watchdog) Ceiling() int {
	return int(w.ceiling.Load())
}

// Latest returns the most recently published ResourceSnapshot.
func (w *Watchdog) Latest() Snapshot {
	return *w.snapshot.Load()
}

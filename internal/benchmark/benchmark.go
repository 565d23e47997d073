// Package benchmark runs a one-shot throughput probe used to suggest an
// initial worker count before a run starts. It is advisory only — the
// Resource Watchdog still governs the live parallelism ceiling.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const probeSize = 64 * 1024 * 1024 // 64 MB

// Result holds throughput measurements from a single probe.
type Result struct {
	ReadBytesPerSec  float64
	WriteBytesPerSec float64
	SuggestedWorkers int
}

// Run measures source read and destination write throughput: it reads an
// existing file from srcRoot and writes a temp file under dstRoot.
func Run(ctx context.Context, srcRoot, dstRoot string) (Result, error) {
	var result Result

	readSpeed, err := probeRead(ctx, srcRoot)
	if err != nil {
		return result, fmt.Errorf("benchmark: read probe: %w", err)
	}
	result.ReadBytesPerSec = readSpeed

	writeSpeed, err := probeWrite(dstRoot)
	if err != nil {
		return result, fmt.Errorf("benchmark: write probe: %w", err)
	}
	result.WriteBytesPerSec = writeSpeed

	result.SuggestedWorkers = suggestWorkers(readSpeed, writeSpeed)
	return result, nil
}

// findProbeFile walks srcRoot for a suitable file to read from. Prefers
// files >= probeSize; falls back to any non-empty file.
func findProbeFile(ctx context.Context, srcRoot string) (string, error) {
	var target string
	err := filepath.WalkDir(srcRoot, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if info.Size() >= probeSize {
			target = path
			return filepath.SkipAll
		}
		if target == "" && info.Size() > 0 {
			target = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if target == "" {
		return "", fmt.Errorf("no readable files under %s", srcRoot)
	}
	return target, nil
}

func probeRead(ctx context.Context, srcRoot string) (float64, error) {
	info, err := os.Stat(srcRoot)
	if err == nil && !info.IsDir() {
		return readThroughput(ctx, srcRoot)
	}

	target, err := findProbeFile(ctx, srcRoot)
	if err != nil {
		return 0, err
	}
	return readThroughput(ctx, target)
}

func readThroughput(ctx context.Context, path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 1<<20)
	var total int64
	start := time.Now()
	for total < probeSize {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		n, readErr := f.Read(buf)
		total += int64(n)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, readErr
		}
	}
	return rate(total, time.Since(start)), nil
}

func probeWrite(dstRoot string) (float64, error) {
	if err := os.MkdirAll(dstRoot, 0o755); err != nil {
		return 0, err
	}

	f, err := os.CreateTemp(dstRoot, ".fastcopy-bench-*")
	if err != nil {
		return 0, err
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)
	defer f.Close()

	buf := make([]byte, 1<<20)
	var total int64
	start := time.Now()
	for total < probeSize {
		n, writeErr := f.Write(buf)
		total += int64(n)
		if writeErr != nil {
			return 0, writeErr
		}
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	return rate(total, time.Since(start)), nil
}

func rate(bytes int64, elapsed time.Duration) float64 {
	if elapsed == 0 {
		elapsed = time.Microsecond
	}
	return float64(bytes) / elapsed.Seconds()
}

func suggestWorkers(readBPS, writeBPS float64) int {
	bottleneck := readBPS
	if writeBPS < bottleneck {
		bottleneck = writeBPS
	}

	cpus := runtime.NumCPU()

	switch {
	case bottleneck >= 2e9:
		return min(cpus*2, 32)
	case bottleneck >= 200e6:
		return min(cpus, 16)
	default:
		return min(4, cpus)
	}
}

// Format renders a Result for a run summary / log line.
func Format(r Result) string {
	return fmt.Sprintf("benchmark: read %s/s write %s/s suggested_workers=%d",
		formatBytes(r.ReadBytesPerSec), formatBytes(r.WriteBytesPerSec), r.SuggestedWorkers)
}

func formatBytes(b float64) string {
	switch {
	case b >= 1e9:
		return fmt.Sprintf("%.1f GB", b/1e9)
	case b >= 1e6:
		return fmt.Sprintf("%.0f MB", b/1e6)
	case b >= 1e3:
		return fmt.Sprintf("%.0f KB", b/1e3)
	default:
		return fmt.Sprintf("%.0f B", b)
	}
}

// Package controller implements the top-level composition (C12): it
// parses effective run options, constructs every other component, wires
// the pause gate and rate limiter to external control points, drives the
// producer into the worker pool, and runs optional finalization (verify,
// on-completion command) once the queue drains. With delete-source, each
// regular source file is removed as soon as its own job completes; source
// directories are not removed.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/fastcopy/fastcopy/internal/benchmark"
	"github.com/fastcopy/fastcopy/internal/job"
	"github.com/fastcopy/fastcopy/internal/journal"
	"github.com/fastcopy/fastcopy/internal/pausegate"
	"github.com/fastcopy/fastcopy/internal/producer"
	"github.com/fastcopy/fastcopy/internal/ratelimit"
	"github.com/fastcopy/fastcopy/internal/ratesize"
	"github.com/fastcopy/fastcopy/internal/recoverystore"
	"github.com/fastcopy/fastcopy/internal/registry"
	"github.com/fastcopy/fastcopy/internal/stats"
	"github.com/fastcopy/fastcopy/internal/verify"
	"github.com/fastcopy/fastcopy/internal/watchdog"
	"github.com/fastcopy/fastcopy/internal/workerpool"
)

// Options carries every effective run option the Controller composes
// components from. Zero values select the documented defaults.
type Options struct {
	SourceRoot      string
	DestinationRoot string
	ExternalList    producer.Config // when Mode == producer.ExternalList, used verbatim instead of SourceRoot/DestinationRoot

	RateLimit        string // e.g. "10MB"; empty means unlimited
	MaxMemoryBytes   int64  // 0 disables the watchdog memory cap
	MaxParallelism   int    // 0 means auto (benchmark-informed)
	MaxRetries       int
	StopOnError      bool
	SparseDetect     bool
	PreserveMetadata bool

	JournalPath  string // defaults to "fastcopy.journal" in the working directory
	RecoveryDir  string // defaults to os.TempDir()
	VerifyAfter  bool
	DryRun       bool
	DeleteSource bool
	OnCompletion string // shell command run after a successful, non-dry-run completion
	Quiet        bool

	Logger *slog.Logger
}

// Summary is the run's final report, returned once every component has
// drained and flushed.
type Summary struct {
	Stats             stats.Snapshot
	Aggregate         registry.Aggregate
	Benchmark         *benchmark.Result
	Verify            *verify.Result
	RecoveryStorePath string
	JournalPath       string
	Err               error
}

// Controller owns every C1-C11 component for one run and exposes the
// external control points (Pause/Resume/SetRate) the spec requires to be
// reachable while a run is in flight.
type Controller struct {
	opts   Options
	logger *slog.Logger

	journal        *journal.Journal
	watchdog       *watchdog.Watchdog
	rateLimiter    *ratelimit.Limiter
	pauseGate      *pausegate.Gate
	registry       *registry.Registry
	recoveryStore  *recoverystore.Store
	statsCollector *stats.Collector
	pool           *workerpool.Pool
	benchResult    *benchmark.Result
}

// New constructs a Controller, opening its Journal and Recovery Store and
// creating its Resource Watchdog. Run starts the watchdog, and Run's
// deferred cleanup stops it and disposes the Journal and Recovery Store.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rateBPS := int64(0)
	if opts.RateLimit != "" {
		parsed, err := ratesize.Parse(opts.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("controller: rate limit: %w", err)
		}
		rateBPS = parsed
	}

	journalPath := opts.JournalPath
	if journalPath == "" {
		journalPath = "fastcopy.journal"
	}
	jrnl, err := journal.Open(journalPath)
	if err != nil {
		return nil, fmt.Errorf("controller: open journal: %w", err)
	}

	recoveryDir := opts.RecoveryDir
	if recoveryDir == "" {
		recoveryDir = os.TempDir()
	}
	store, err := recoverystore.Open(recoveryDir, time.Now())
	if err != nil {
		jrnl.Dispose()
		return nil, fmt.Errorf("controller: open recovery store: %w", err)
	}

	parallelism := opts.MaxParallelism
	var benchResult *benchmark.Result
	if parallelism <= 0 {
		if result, err := benchmark.Run(ctx, opts.SourceRoot, opts.DestinationRoot); err == nil {
			parallelism = result.SuggestedWorkers
			benchResult = &result
		} else {
			opts.Logger.Warn("benchmark probe failed, falling back to NumCPU", "error", err)
			parallelism = runtime.NumCPU()
		}
	}

	wd, err := watchdog.New(parallelism, opts.MaxMemoryBytes)
	if err != nil {
		store.Dispose()
		jrnl.Dispose()
		return nil, fmt.Errorf("controller: create watchdog: %w", err)
	}

	c := &Controller{
		opts:           opts,
		logger:         opts.Logger,
		journal:        jrnl,
		watchdog:       wd,
		rateLimiter:    ratelimit.New(rateBPS),
		pauseGate:      pausegate.New(),
		registry:       registry.New(),
		recoveryStore:  store,
		statsCollector: stats.NewCollector(),
		benchResult:    benchResult,
	}

	c.pool = workerpool.New(workerpool.Config{
		MaxParallelism: parallelism,
		MaxRetries:     opts.MaxRetries,
		StopOnError:    opts.StopOnError,
		PauseGate:      c.pauseGate,
		RateLimiter:    c.rateLimiter,
		Watchdog:       c.watchdog,
		Registry:       c.registry,
		RecoveryStore:  c.recoveryStore,
		OnComplete:     c.onJobComplete,
		OnFailure:      c.onJobFailed,
	})

	return c, nil
}

// Pause blocks workers at their next suspension point. Safe to call at any
// time during a run.
func (c *Controller) Pause() { c.pauseGate.Pause() }

// Resume releases any workers currently blocked on Pause.
func (c *Controller) Resume() { c.pauseGate.Resume() }

// SetRate adjusts the live transfer rate ceiling in bytes/sec. 0 disables
// throttling.
func (c *Controller) SetRate(bytesPerSec int64) { c.rateLimiter.SetLimit(bytesPerSec) }

// Snapshot returns a point-in-time view of every in-flight transfer,
// intended for a UI to poll; the registry is the sole source of truth.
func (c *Controller) Snapshot() []job.ActiveTransfer { return c.registry.Snapshot() }

// Run enumerates the configured source, drives every job through the
// worker pool, and performs optional finalization. It blocks until the
// run completes, is canceled, or StopOnError aborts it.
func (c *Controller) Run(ctx context.Context) Summary {
	wdCtx, cancelWD := context.WithCancel(ctx)
	c.watchdog.Start(wdCtx)
	defer cancelWD()
	defer c.watchdog.Stop()
	defer c.journal.Dispose()
	defer c.recoveryStore.Dispose()

	if resumed, err := c.journal.Resume(); err != nil {
		c.logger.Warn("journal resume failed", "error", err)
	} else if len(resumed) > 0 {
		c.logger.Info("resuming from prior run", "pending_entries", len(resumed))
	}

	prodCfg := c.producerConfig()
	prod := producer.New(prodCfg)
	jobs, prodErrs := prod.Produce(ctx)

	if c.opts.DryRun {
		return c.runDry(ctx, jobs, prodErrs)
	}

	wrappedJobs := make(chan job.CopyJob, 64)
	go func() {
		defer close(wrappedJobs)
		for j := range jobs {
			_ = c.journal.Update(fingerprint(j), j.DestinationURI, 0)
			c.statsCollector.AddFilesTotal(1)
			c.statsCollector.AddBytesTotal(j.KnownSizeBytes)
			wrappedJobs <- j
		}
	}()

	poolErr := c.pool.Run(ctx, wrappedJobs)

	var producerErr error
	for err := range prodErrs {
		c.logger.Warn("producer error", "error", err)
		producerErr = err
	}

	summary := Summary{
		Stats:             c.statsCollector.Snapshot(),
		Aggregate:         registry.AggregateSnapshot(c.registry.Snapshot()),
		Benchmark:         c.benchResult,
		RecoveryStorePath: c.recoveryStore.Path(),
		JournalPath:       c.journal.Path(),
	}

	if poolErr != nil {
		summary.Err = poolErr
		return summary
	}
	if producerErr != nil {
		summary.Err = fmt.Errorf("controller: enumeration: %w", producerErr)
		return summary
	}

	if c.opts.VerifyAfter {
		result := verify.Run(ctx, verify.Config{
			SourceRoot:      c.opts.SourceRoot,
			DestinationRoot: c.opts.DestinationRoot,
		})
		summary.Verify = &result
	}

	if err := c.finalize(ctx); err != nil {
		summary.Err = err
	}

	return summary
}

// runDry drains jobs and accumulates stats without ever invoking the
// worker pool, per the spec's dry-run contract ("show what would be
// copied without writing").
func (c *Controller) runDry(ctx context.Context, jobs <-chan job.CopyJob, prodErrs <-chan error) Summary {
	for j := range jobs {
		if j.Kind == job.Regular {
			c.statsCollector.AddFilesScanned(1)
			c.statsCollector.AddBytesTotal(j.KnownSizeBytes)
		}
	}
	var producerErr error
	for err := range prodErrs {
		producerErr = err
	}
	return Summary{
		Stats:             c.statsCollector.Snapshot(),
		RecoveryStorePath: c.recoveryStore.Path(),
		JournalPath:       c.journal.Path(),
		Benchmark:         c.benchResult,
		Err:               producerErr,
	}
}

func (c *Controller) producerConfig() producer.Config {
	if c.opts.ExternalList.Mode == producer.ExternalList {
		cfg := c.opts.ExternalList
		if cfg.Workers <= 0 {
			cfg.Workers = c.pool.Parallelism()
		}
		return cfg
	}

	mode := producer.SingleFile
	if info, err := os.Stat(c.opts.SourceRoot); err == nil && info.IsDir() {
		mode = producer.Directory
	}

	return producer.Config{
		Mode:             mode,
		SourceRoot:       c.opts.SourceRoot,
		DestinationRoot:  c.opts.DestinationRoot,
		Workers:          c.pool.Parallelism(),
		SparseDetect:     c.opts.SparseDetect,
		PreserveMetadata: c.opts.PreserveMetadata,
	}
}

// onJobComplete marks a job done in the Journal, bumps the stats
// collector, and (when configured) removes the source file. Invoked by
// the worker pool's OnComplete hook after a successful attempt.
func (c *Controller) onJobComplete(j job.CopyJob) {
	_ = c.journal.Complete(fingerprint(j))

	switch j.Kind {
	case job.Regular:
		c.statsCollector.AddFilesCopied(1)
		c.statsCollector.AddBytesCopied(j.KnownSizeBytes)
	case job.Directory:
		c.statsCollector.AddDirsCreated(1)
	case job.Hardlink:
		c.statsCollector.AddHardlinksCreated(1)
	}

	if c.opts.DeleteSource && j.Kind == job.Regular {
		if err := os.Remove(j.SourceURI); err != nil {
			c.logger.Warn("delete-source failed", "path", j.SourceURI, "error", err)
		}
	}
}

// onJobFailed records a dead-lettered job in the stats collector. Wired
// as the Worker Pool's OnFailure hook.
func (c *Controller) onJobFailed(j job.CopyJob) {
	c.statsCollector.AddFilesFailed(1)
}

// finalize runs the configured on-completion shell command, if any. It
// never runs during a dry run (runDry returns before reaching it).
func (c *Controller) finalize(ctx context.Context) error {
	if c.opts.OnCompletion == "" {
		return nil
	}
	cmdCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "/bin/sh", "-c", c.opts.OnCompletion)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("controller: on-completion command: %w", err)
	}
	return nil
}

// fingerprint derives the Journal's 64-bit key from a job's identity.
func fingerprint(j job.CopyJob) uint64 {
	return journal.Fingerprint(j.SourceURI, j.DestinationURI)
}

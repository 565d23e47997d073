// Package workerpool implements the bounded-parallelism worker pool (C8):
// it drains a job channel, executes each job's copy through the transport
// layer under a watchdog-aware concurrency ceiling, retries transient
// failures, and dead-letters permanent ones to the recovery store.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/fastcopy/fastcopy/internal/errkind"
	"github.com/fastcopy/fastcopy/internal/job"
	"github.com/fastcopy/fastcopy/internal/pausegate"
	"github.com/fastcopy/fastcopy/internal/platform"
	"github.com/fastcopy/fastcopy/internal/ratelimit"
	"github.com/fastcopy/fastcopy/internal/recoverystore"
	"github.com/fastcopy/fastcopy/internal/registry"
	"github.com/fastcopy/fastcopy/internal/transport"
	"github.com/fastcopy/fastcopy/internal/watchdog"
)

const retryBaseDelay = 100 * time.Millisecond

// Watchdog is the subset of *watchdog.Watchdog the pool consults for its
// admission ceiling. Satisfied by *watchdog.Watchdog; nil-able via Config
// (a nil Watchdog means "no live ceiling, use MaxParallelism as-is").
type Watchdog interface {
	Ceiling() int
}

var _ Watchdog = (*watchdog.Watchdog)(nil)

// TransportFactory resolves a Transport for a destination URI. Defaults to
// transport.New; overridable in tests.
type TransportFactory func(destinationURI string) (transport.Transport, transport.Location, error)

// Config configures a Pool.
type Config struct {
	MaxParallelism int
	MaxRetries     int
	StopOnError    bool

	PauseGate     *pausegate.Gate
	RateLimiter   *ratelimit.Limiter
	Watchdog      Watchdog
	Registry      *registry.Registry
	RecoveryStore *recoverystore.Store

	// TransportFactory defaults to transport.New when nil.
	TransportFactory TransportFactory

	// OnComplete, when set, is called after a job finishes successfully
	// (including directory/symlink/hardlink jobs). The Controller uses this
	// to mark the job complete in the Journal.
	OnComplete func(job.CopyJob)

	// OnFailure, when set, is called after a job exhausts its retries and
	// is dead-lettered (StopOnError jobs instead propagate and never call
	// this). The Controller uses this to update its run statistics.
	OnFailure func(job.CopyJob)
}

// Pool executes CopyJobs with bounded, watchdog-governed parallelism.
type Pool struct {
	cfg      Config
	resolve  TransportFactory
	inFlight chan struct{} // capacity MaxParallelism permits
}

// New constructs a Pool. A MaxParallelism below 1 is raised to 1.
// MaxRetries counts retries after the first attempt, so 0 means a single
// attempt.
func New(cfg Config) *Pool {
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = 1
	}
	factory := cfg.TransportFactory
	if factory == nil {
		factory = transport.New
	}
	return &Pool{
		cfg:      cfg,
		resolve:  factory,
		inFlight: make(chan struct{}, cfg.MaxParallelism),
	}
}

// Parallelism returns the pool's configured permit capacity, used by the
// Controller to size the producer's own tree-walk worker count to match.
func (p *Pool) Parallelism() int { return cap(p.inFlight) }

// Run drains jobs until the channel closes or ctx is canceled, executing
// up to the effective ceiling concurrently. If StopOnError is set and a
// job exhausts its retries, Run cancels remaining work and returns that
// job's last error; otherwise Run returns nil once the queue drains.
func (p *Pool) Run(ctx context.Context, jobs <-chan job.CopyJob) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	done := make(chan struct{})
	var active sync.WaitGroup

	go func() {
		defer close(done)
		for {
			select {
			case j, ok := <-jobs:
				if !ok {
					active.Wait()
					return
				}
				p.admit(ctx)
				select {
				case p.inFlight <- struct{}{}:
				case <-ctx.Done():
					return
				}
				active.Add(1)
				go func(j job.CopyJob) {
					defer active.Done()
					defer func() { <-p.inFlight }()
					if err := p.processJob(ctx, j); err != nil {
						select {
						case errCh <- err:
							cancel()
						default:
						}
					}
				}(j)
			case <-ctx.Done():
				active.Wait()
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		<-done
	}

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

// admit yields briefly while the watchdog ceiling is below the number of
// currently leased permits, per the spec's admission step.
func (p *Pool) admit(ctx context.Context) {
	if p.cfg.Watchdog == nil {
		return
	}
	for {
		ceiling := p.cfg.Watchdog.Ceiling()
		if ceiling <= 0 || len(p.inFlight) < ceiling {
			return
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) processJob(ctx context.Context, j job.CopyJob) error {
	entry := p.cfg.Registry.Start(j)
	defer p.cfg.Registry.Remove(j.SourceURI)

	entry.Status = job.Copying

	var lastErr error
	maxAttempts := p.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := p.attempt(ctx, j, entry)
		if err == nil {
			entry.Status = job.Completed
			if p.cfg.OnComplete != nil {
				p.cfg.OnComplete(j)
			}
			return nil
		}
		lastErr = err

		if !errkind.IsRetryable(err) || attempt == maxAttempts {
			break
		}

		entry.BytesTransferred = 0
		select {
		case <-time.After(retryBaseDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return nil
		}
	}

	if ctx.Err() != nil {
		// Canceled mid-retry: abort without writing to the recovery store.
		return nil
	}

	if p.cfg.StopOnError {
		return fmt.Errorf("job %s -> %s: %w", j.SourceURI, j.DestinationURI, lastErr)
	}

	entry.Status = job.Failed
	if p.cfg.OnFailure != nil {
		p.cfg.OnFailure(j)
	}
	if p.cfg.RecoveryStore != nil {
		_ = p.cfg.RecoveryStore.LogFailure(recoverystore.FailedJobRecord{
			Timestamp:      time.Now(),
			SourceURI:      j.SourceURI,
			DestinationURI: j.DestinationURI,
			FileSizeBytes:  j.KnownSizeBytes,
			ErrorMessage:   lastErr.Error(),
		})
	}
	return nil
}

func (p *Pool) attempt(ctx context.Context, j job.CopyJob, entry *job.ActiveTransfer) error {
	switch j.Kind {
	case job.Directory:
		return createDirectory(j)
	case job.Symlink:
		return createSymlink(j)
	case job.Hardlink:
		return createHardlink(j)
	}

	if isLocalToLocalRegular(j) && p.fastPathEligible() {
		return p.attemptLocalFastPath(j, entry)
	}

	tr, _, err := p.resolve(j.DestinationURI)
	if err != nil {
		return err
	}

	src, err := os.Open(j.SourceURI)
	if err != nil {
		return err
	}
	defer src.Close()

	onProgress := func(copied, known int64, speed float64) {
		entry.BytesTransferred = copied
		entry.TotalBytes = known
		entry.BytesPerSecond = speed
	}

	opts := transport.CopyOptions{
		KnownSize:   j.KnownSizeBytes,
		RateLimiter: p.cfg.RateLimiter,
		PauseGate:   p.cfg.PauseGate,
		OnProgress:  onProgress,
	}
	if j.Metadata != nil {
		opts.Metadata = &transport.MetadataOpts{
			Mode:     true,
			Times:    true,
			Owner:    true,
			FileMode: j.Metadata.Mode,
			ModTime:  j.Metadata.ModTime,
			AccTime:  j.Metadata.AccTime,
			UID:      j.Metadata.UID,
			GID:      j.Metadata.GID,
		}
	}

	return tr.CopyStreamTo(ctx, src, j.DestinationURI, opts)
}

// fastPathEligible reports whether the pool's configured rate limiter and
// pause gate allow bypassing the generic Transport for this run. The
// platform fast path (copy_file_range/sendfile/read-write) makes a single
// uninterruptible syscall per file and never consults either control, so
// it can only be used when neither is actually in effect: no rate limiter
// or one in bypass mode (GetLimit() == 0), and no pause gate installed at
// all (one could be paused mid-copy, which the fast path couldn't honor).
func (p *Pool) fastPathEligible() bool {
	if p.cfg.RateLimiter != nil && p.cfg.RateLimiter.GetLimit() > 0 {
		return false
	}
	if p.cfg.PauseGate != nil {
		return false
	}
	return true
}

// isLocalToLocalRegular reports whether a job can take the direct
// platform-syscall fast path: a plain regular-file source copied to a
// plain local destination path, bypassing the generic streaming Transport
// so copy_file_range/sendfile apply, exactly as the teacher's
// engine always did for local copies.
func isLocalToLocalRegular(j job.CopyJob) bool {
	if j.Kind != job.Regular || j.KnownSizeBytes < 0 {
		return false
	}
	srcLoc, err := transport.ParseLocation(j.SourceURI)
	if err != nil || srcLoc.Scheme != transport.SchemeLocal {
		return false
	}
	dstLoc, err := transport.ParseLocation(j.DestinationURI)
	if err != nil || dstLoc.Scheme != transport.SchemeLocal {
		return false
	}
	return true
}

// attemptLocalFastPath copies a local regular file straight through
// internal/platform's OS-syscall fast path (copy_file_range/sendfile/
// read-write), the same path the teacher's engine always took for local
// copies, instead of the generic streaming Transport interface which
// can't unwrap an io.Reader back into a file descriptor.
func (p *Pool) attemptLocalFastPath(j job.CopyJob, entry *job.ActiveTransfer) error {
	dir := filepath.Dir(j.DestinationURI)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workerpool: mkdir %s: %w", dir, err)
	}

	perm := os.FileMode(0o644)
	if j.Metadata != nil {
		perm = os.FileMode(j.Metadata.Mode).Perm()
	}

	tmpName := fmt.Sprintf(".%s.%s.fastcopy-tmp", filepath.Base(j.DestinationURI), uuid.New().String()[:8])
	tmpPath := filepath.Join(dir, tmpName)

	dstFd, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("workerpool: create temp %s: %w", tmpPath, err)
	}

	var total int64
	if j.KnownSizeBytes > 0 {
		platform.Preallocate(dstFd, j.KnownSizeBytes)
		total, err = copyLocalData(j, dstFd)
		if err != nil {
			dstFd.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("workerpool: copy data %s: %w", j.SourceURI, err)
		}
	}

	if j.Metadata != nil {
		if err := applyLocalFastPathMetadata(j, dstFd); err != nil {
			dstFd.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("workerpool: set metadata %s: %w", j.DestinationURI, err)
		}
	}

	if err := dstFd.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("workerpool: close temp %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, j.DestinationURI); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("workerpool: rename %s -> %s: %w", tmpPath, j.DestinationURI, err)
	}

	entry.BytesTransferred = total
	entry.TotalBytes = total
	return nil
}

func copyLocalData(j job.CopyJob, dstFd *os.File) (int64, error) {
	if len(j.Segments) > 0 {
		if err := dstFd.Truncate(j.KnownSizeBytes); err != nil {
			return 0, fmt.Errorf("truncate for sparse: %w", err)
		}
		var total int64
		for _, seg := range j.Segments {
			result, err := platform.CopyFile(platform.CopyFileParams{
				SrcPath:   j.SourceURI,
				DstFd:     dstFd,
				SrcOffset: seg.Offset,
				Length:    seg.Length,
				SrcSize:   j.KnownSizeBytes,
			})
			if err != nil {
				return total, err
			}
			total += result.BytesWritten
		}
		return total, nil
	}

	result, err := platform.CopyFile(platform.CopyFileParams{
		SrcPath: j.SourceURI,
		DstFd:   dstFd,
		SrcSize: j.KnownSizeBytes,
	})
	if err != nil {
		return 0, err
	}
	return result.BytesWritten, nil
}

func applyLocalFastPathMetadata(j job.CopyJob, dstFd *os.File) error {
	rawFd := int(dstFd.Fd())

	if err := unix.Fchmod(rawFd, j.Metadata.Mode&0o7777); err != nil {
		return fmt.Errorf("fchmod: %w", err)
	}

	times := []unix.Timespec{
		unix.NsecToTimespec(j.Metadata.AccTime),
		unix.NsecToTimespec(j.Metadata.ModTime),
	}
	if err := unix.UtimesNanoAt(rawFd, "", times, unix.AT_EMPTY_PATH); err != nil {
		if err2 := unix.UtimesNanoAt(unix.AT_FDCWD, dstFd.Name(), times, 0); err2 != nil {
			return fmt.Errorf("utimensat: %w", err)
		}
	}

	// Ownership last; non-fatal without CAP_CHOWN.
	_ = unix.Fchown(rawFd, int(j.Metadata.UID), int(j.Metadata.GID))
	return nil
}

func createDirectory(j job.CopyJob) error {
	perm := os.FileMode(0o755)
	if j.Metadata != nil {
		perm = os.FileMode(j.Metadata.Mode).Perm()
	}
	if err := os.MkdirAll(j.DestinationURI, perm); err != nil {
		return fmt.Errorf("workerpool: mkdir %s: %w", j.DestinationURI, err)
	}
	if j.Metadata == nil {
		return nil
	}
	if err := os.Chmod(j.DestinationURI, perm); err != nil {
		return fmt.Errorf("workerpool: chmod dir %s: %w", j.DestinationURI, err)
	}
	times := []unix.Timespec{
		unix.NsecToTimespec(j.Metadata.AccTime),
		unix.NsecToTimespec(j.Metadata.ModTime),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, j.DestinationURI, times, 0); err != nil {
		return fmt.Errorf("workerpool: utimensat dir %s: %w", j.DestinationURI, err)
	}
	return nil
}

func createSymlink(j job.CopyJob) error {
	dir := filepath.Dir(j.DestinationURI)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workerpool: create parent dir for symlink %s: %w", j.DestinationURI, err)
	}
	_ = os.Remove(j.DestinationURI)
	if err := os.Symlink(j.LinkTarget, j.DestinationURI); err != nil {
		return fmt.Errorf("workerpool: symlink %s -> %s: %w", j.DestinationURI, j.LinkTarget, err)
	}
	return nil
}

// createHardlink translates the source link target (the first-seen path
// of the shared inode) into its corresponding destination path, mirroring
// the teacher's worker.go createHardlink.
func createHardlink(j job.CopyJob) error {
	relTarget, err := filepath.Rel(filepath.Dir(j.SourceURI), j.LinkTarget)
	if err != nil {
		return fmt.Errorf("workerpool: rel hardlink target: %w", err)
	}
	dstTarget := filepath.Join(filepath.Dir(j.DestinationURI), relTarget)

	dir := filepath.Dir(j.DestinationURI)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workerpool: create parent dir for hardlink %s: %w", j.DestinationURI, err)
	}
	_ = os.Remove(j.DestinationURI)
	if err := os.Link(dstTarget, j.DestinationURI); err != nil {
		return fmt.Errorf("workerpool: hardlink %s -> %s: %w", j.DestinationURI, dstTarget, err)
	}
	return nil
}

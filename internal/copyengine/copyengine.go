// Package copyengine implements the streaming copy engine (C3): a
// producer/consumer split over a bounded in-memory pipe with backpressure,
// honoring the pause gate and rate limiter per segment and reporting
// progress.
//
// The producer/consumer goroutine split and pooled-buffer discipline
// mirrors the teacher's worker.go copy loop and internal/stats's
// lock-free counters, generalized here to work over any io.Reader/Writer
// pair instead of being hard-wired to local files.
package copyengine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fastcopy/fastcopy/internal/errkind"
	"github.com/fastcopy/fastcopy/internal/pausegate"
	"github.com/fastcopy/fastcopy/internal/platform"
	"github.com/fastcopy/fastcopy/internal/ratelimit"
)

// ProgressFunc is called by the consumer after every segment is written.
// totalCopied is bytes acknowledged by the sink so far; totalKnown is the
// declared source size or a negative value if unknown; speedEstimate is
// totalCopied / elapsed wall time in bytes/second. Implementations must
// tolerate being called with a 0-byte segment (speedEstimate unchanged).
type ProgressFunc func(totalCopied, totalKnown int64, speedEstimate float64)

// Options configures one copy_stream invocation. RateLimiter and
// PauseGate are optional — nil disables the corresponding check.
type Options struct {
	RateLimiter *ratelimit.Limiter
	PauseGate   *pausegate.Gate
	OnProgress  ProgressFunc
	KnownSize   int64 // negative if unknown
}

// CopyStream streams all bytes of src into dst through a bounded pipe,
// returning at most one fatal error. The producer goroutine reads from
// src into pooled buffers and sends them down the pipe; this goroutine is
// the consumer, applying the pause gate and rate limiter to each segment
// before writing it to dst.
func CopyStream(ctx context.Context, src io.Reader, dst io.Writer, opts Options) error {
	p := newPipe()

	producerErr := make(chan error, 1)
	go produce(ctx, src, p, producerErr)

	var totalCopied int64
	knownSize := opts.KnownSize
	start := time.Now()
	reported := false

	for seg := range p.ch {
		if seg.err != nil {
			putSegmentBuf(seg.buf)
			return seg.err
		}

		if opts.PauseGate != nil {
			if err := opts.PauseGate.WaitWhilePaused(ctx); err != nil {
				putSegmentBuf(seg.buf)
				drainPipe(p)
				return err
			}
		}

		if seg.n > 0 {
			if opts.RateLimiter != nil {
				if err := opts.RateLimiter.Consume(ctx, int64(seg.n)); err != nil {
					putSegmentBuf(seg.buf)
					drainPipe(p)
					return err
				}
			}

			if _, err := dst.Write((*seg.buf)[:seg.n]); err != nil {
				putSegmentBuf(seg.buf)
				drainPipe(p)
				return fmt.Errorf("copyengine: write: %w", err)
			}
			totalCopied += int64(seg.n)
		}

		putSegmentBuf(seg.buf)

		if opts.OnProgress != nil {
			elapsed := time.Since(start).Seconds()
			var speed float64
			if elapsed > 0 {
				speed = float64(totalCopied) / elapsed
			}
			opts.OnProgress(totalCopied, knownSize, speed)
			reported = true
		}
	}

	if err := <-producerErr; err != nil {
		return err
	}
	if opts.OnProgress != nil && !reported {
		// An empty source produced no segments; report the zero total once.
		opts.OnProgress(0, knownSize, 0)
	}
	return nil
}

// produce reads src into pooled buffers and sends them down p.ch until
// src is exhausted or ctx is canceled. It always closes p.ch exactly
// once, and reports its own terminal error (if any) on errCh.
func produce(ctx context.Context, src io.Reader, p *pipe, errCh chan<- error) {
	defer close(p.ch)

	for {
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}

		bufp := getSegmentBuf()
		n, err := src.Read(*bufp)

		if n > 0 {
			select {
			case p.ch <- segment{buf: bufp, n: n}:
			case <-ctx.Done():
				putSegmentBuf(bufp)
				errCh <- ctx.Err()
				return
			}
		} else {
			putSegmentBuf(bufp)
		}

		if err == io.EOF {
			errCh <- nil
			return
		}
		if err != nil {
			errCh <- fmt.Errorf("copyengine: read: %w", err)
			return
		}
	}
}

// drainPipe empties any remaining segments after an early-exit so the
// producer's send (if blocked) always completes and its goroutine exits.
func drainPipe(p *pipe) {
	for seg := range p.ch {
		if seg.buf != nil {
			putSegmentBuf(seg.buf)
		}
	}
}

// CopyFile opens srcPath for read and dstPath for write (create/truncate),
// pre-allocating the destination when knownSize is positive, then
// delegates to CopyStream.
func CopyFile(ctx context.Context, srcPath, dstPath string, knownSize int64, opts Options) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("copyengine: open source %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("copyengine: open destination %s: %w", dstPath, err)
	}
	defer dst.Close()

	if knownSize > 0 {
		platform.Preallocate(dst, knownSize)
	}

	opts.KnownSize = knownSize
	if err := CopyStream(ctx, src, dst, opts); err != nil {
		return err
	}
	return nil
}

// SizeBoundedReader wraps src to fail with errkind.ErrSourceEndedPrematurely
// if fewer than declaredSize bytes are read before EOF. Used by transports
// streaming from sources with a declared size (e.g. the USTAR content
// phase already does this internally; this is for plain transports that
// need the same guarantee without tar framing).
type SizeBoundedReader struct {
	src          io.Reader
	declaredSize int64
	remaining    int64
}

// NewSizeBoundedReader constructs a SizeBoundedReader.
func NewSizeBoundedReader(src io.Reader, declaredSize int64) *SizeBoundedReader {
	return &SizeBoundedReader{src: src, declaredSize: declaredSize, remaining: declaredSize}
}

func (r *SizeBoundedReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.src.Read(p)
	r.remaining -= int64(n)
	if err == io.EOF && r.remaining > 0 {
		return n, fmt.Errorf("copyengine: %w", errkind.ErrSourceEndedPrematurely)
	}
	return n, err
}

package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/fastcopy/fastcopy/internal/copyengine"
)

// LocalTransport lands a stream on the local filesystem. It creates
// parent directories as needed, streams into a temp file beside the
// destination, then renames atomically — the same temp-name-then-rename
// discipline the teacher's worker.go uses for copyRegularFile.
type LocalTransport struct{}

// NewLocalTransport constructs a LocalTransport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

// CopyStreamTo implements Transport for bare paths and file:// URIs.
func (t *LocalTransport) CopyStreamTo(ctx context.Context, source io.Reader, destinationURI string, opts CopyOptions) error {
	loc, err := ParseLocation(destinationURI)
	if err != nil {
		return err
	}
	if loc.Scheme != SchemeLocal {
		return fmt.Errorf("%w: local transport given non-local uri %q", ErrBadURI, destinationURI)
	}
	dstPath := loc.Path

	dir := filepath.Dir(dstPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("transport(local): mkdir %s: %w", dir, err)
	}

	tmpName := fmt.Sprintf(".%s.%s.fastcopy-tmp", filepath.Base(dstPath), uuid.New().String()[:8])
	tmpPath := filepath.Join(dir, tmpName)

	perm := os.FileMode(0o644)
	if opts.Metadata != nil && opts.Metadata.Mode {
		perm = os.FileMode(opts.Metadata.FileMode)
	}

	dst, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("transport(local): create temp %s: %w", tmpPath, err)
	}

	if opts.KnownSize > 0 {
		preallocateLocal(dst, opts.KnownSize)
	}

	engineOpts := copyengine.Options{
		RateLimiter: opts.RateLimiter,
		PauseGate:   opts.PauseGate,
		OnProgress:  opts.OnProgress,
		KnownSize:   opts.KnownSize,
	}
	copyErr := copyengine.CopyStream(ctx, source, dst, engineOpts)
	closeErr := dst.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("transport(local): close temp %s: %w", tmpPath, closeErr)
	}

	if opts.Metadata != nil {
		if err := applyLocalMetadata(tmpPath, *opts.Metadata); err != nil {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("transport(local): apply metadata: %w", err)
		}
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("transport(local): rename %s -> %s: %w", tmpPath, dstPath, err)
	}
	return nil
}

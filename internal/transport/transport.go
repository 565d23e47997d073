// Package transport implements the pluggable Transport abstraction (C4):
// Local, SFTP, Container, and Pod variants, each consuming a byte stream
// and landing it at a URI, plus the scheme-keyed factory that picks one.
package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/fastcopy/fastcopy/internal/copyengine"
	"github.com/fastcopy/fastcopy/internal/pausegate"
	"github.com/fastcopy/fastcopy/internal/ratelimit"
)

// MetadataOpts selects which metadata attributes a transport should
// preserve after copying a file, the supplemented feature recovered from
// the teacher's setFileMetadata/setDirMetadata/copyXattrs.
type MetadataOpts struct {
	Mode  bool
	Times bool
	Owner bool
	Xattr bool

	FileMode uint32
	ModTime  int64 // unix nanos
	AccTime  int64
	UID, GID uint32
}

// CopyOptions carries the cross-cutting concerns every transport's
// CopyStreamTo must honor: the shared rate limiter and pause gate, a
// progress callback, the source's declared size (negative if unknown),
// and optional metadata to apply after the stream completes.
type CopyOptions struct {
	KnownSize   int64
	RateLimiter *ratelimit.Limiter
	PauseGate   *pausegate.Gate
	OnProgress  copyengine.ProgressFunc
	Metadata    *MetadataOpts
}

// Transport lands a byte stream at a destination URI.
type Transport interface {
	// CopyStreamTo streams all bytes of source to destinationURI.
	CopyStreamTo(ctx context.Context, source io.Reader, destinationURI string, opts CopyOptions) error
}

// New resolves a destination URI to the Transport variant that can serve
// it, via the Location parsed from it. Unknown schemes are rejected here,
// at the boundary, per the spec's factory contract.
func New(destinationURI string) (Transport, Location, error) {
	loc, err := ParseLocation(destinationURI)
	if err != nil {
		return nil, Location{}, err
	}

	switch loc.Scheme {
	case SchemeLocal:
		return NewLocalTransport(), loc, nil
	case SchemeSFTP:
		return NewSFTPTransport(), loc, nil
	case SchemeContainer:
		t, err := NewContainerTransport()
		return t, loc, err
	case SchemePod:
		t, err := NewPodTransport()
		return t, loc, err
	default:
		return nil, Location{}, fmt.Errorf("%w: unhandled scheme %q", ErrBadURI, loc.Scheme)
	}
}

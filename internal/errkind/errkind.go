// Package errkind classifies errors into the kinds the worker pool and
// transports need to branch on: retryable versus not, cancellation versus
// failure. It never introduces new wrapper types — it inspects errors
// produced by the standard library and by the transports' own libraries
// (net, os, ssh, sftp) via errors.As/errors.Is.
package errkind

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Kind is one of the error categories named in the spec's error handling
// design. It is never compared for equality with a sentinel by callers —
// use Classify.
type Kind int

const (
	// TransientIO covers retryable local I/O errors (interrupted syscalls,
	// timeouts on local descriptors, path/link errors, and a bare io.EOF).
	TransientIO Kind = iota
	// TransientNetwork covers retryable network/socket errors.
	TransientNetwork
	// TransientRemoteShell covers retryable SFTP/SSH transport failures.
	TransientRemoteShell
	// Auth covers authorization/authentication failures. Not retryable.
	Auth
	// BadInput covers URI parse errors, bad arguments, negative sizes.
	// Not retryable.
	BadInput
	// Canceled covers context cancellation and deadline exceeded.
	// Propagated unchanged, never logged to the recovery store.
	Canceled
	// SourceEndedPrematurely covers a declared-size source stream that
	// closed before delivering all its bytes. Fatal for that job, never
	// retried.
	SourceEndedPrematurely
	// NotFound covers source-not-found conditions. Not retryable.
	NotFound
	// Other is anything not otherwise classified. Treated as not
	// retryable so an unrecognized error never loops forever.
	Other
)

func (k Kind) String() string {
	switch k {
	case TransientIO:
		return "transient_io"
	case TransientNetwork:
		return "transient_network"
	case TransientRemoteShell:
		return "transient_remote_shell"
	case Auth:
		return "auth"
	case BadInput:
		return "bad_input"
	case Canceled:
		return "canceled"
	case SourceEndedPrematurely:
		return "source_ended_prematurely"
	case NotFound:
		return "not_found"
	default:
		return "other"
	}
}

// Retryable reports whether a job experiencing this kind of error should be
// retried, per the classification table in the error handling design.
func (k Kind) Retryable() bool {
	switch k {
	case TransientIO, TransientNetwork, TransientRemoteShell:
		return true
	default:
		return false
	}
}

// ErrSourceEndedPrematurely is raised by stream wrappers (the USTAR framer,
// size-bounded readers) when fewer than the declared number of bytes were
// available from the source.
var ErrSourceEndedPrematurely = errors.New("source ended prematurely")

// ErrBadInput is raised at contract boundaries for malformed arguments
// (negative rate limits, unparsable URIs, unknown transport schemes).
var ErrBadInput = errors.New("bad input")

// Classify inspects err and returns the most specific Kind it matches. The
// order of checks matters: cancellation and the sentinels above take
// priority over generic net/os classification.
func Classify(err error) Kind {
	if err == nil {
		return Other
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Canceled
	case errors.Is(err, ErrSourceEndedPrematurely), errors.Is(err, io.ErrUnexpectedEOF):
		return SourceEndedPrematurely
	case errors.Is(err, ErrBadInput):
		return BadInput
	case errors.Is(err, os.ErrNotExist):
		return NotFound
	case errors.Is(err, os.ErrPermission):
		return Auth
	}

	var sshExitErr *ssh.ExitError
	if errors.As(err, &sshExitErr) {
		return TransientRemoteShell
	}
	var sftpStatusErr *sftp.StatusError
	if errors.As(err, &sftpStatusErr) {
		return TransientRemoteShell
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return TransientNetwork
		}
		return TransientNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return TransientNetwork
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return TransientIO
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return TransientIO
	}

	if errors.Is(err, io.EOF) {
		return TransientIO
	}

	return Other
}

// IsRetryable is shorthand for Classify(err).Retryable().
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/fastcopy/fastcopy/internal/copyengine"
)

const sftpPoolCapacity = 10

// pooledClient bundles an SFTP client with the SSH connection it rides
// on, so closing it tears down both.
type pooledClient struct {
	sftp *sftp.Client
	ssh  *ssh.Client
}

func (p *pooledClient) Close() error {
	err := p.sftp.Close()
	if sshErr := p.ssh.Close(); sshErr != nil && err == nil {
		err = sshErr
	}
	return err
}

// hostPool is a per-host connection pool of capacity sftpPoolCapacity,
// reusing live connections and reconnecting as needed. Connections are
// leased exclusively while in use.
type hostPool struct {
	mu     sync.Mutex
	idle   []*pooledClient
	leased int
	dial   func() (*pooledClient, error)
}

func (p *hostPool) acquire() (*pooledClient, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.leased++
		p.mu.Unlock()
		return c, nil
	}
	// Past capacity this still dials rather than blocking indefinitely;
	// release closes the surplus connection instead of pooling it.
	p.leased++
	p.mu.Unlock()

	c, err := p.dial()
	if err != nil {
		p.mu.Lock()
		p.leased--
		p.mu.Unlock()
		return nil, err
	}
	return c, nil
}

func (p *hostPool) release(c *pooledClient, healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leased--
	if healthy && len(p.idle)+p.leased < sftpPoolCapacity {
		p.idle = append(p.idle, c)
		return
	}
	_ = c.Close()
}

// SFTPTransport lands a stream on a remote filesystem over SFTP. It owns
// one connection pool per host, authenticating in the priority order
// DialSSH documents.
type SFTPTransport struct {
	mu    sync.Mutex
	pools map[string]*hostPool

	// InsecureSkipHostKeyCheck disables host key validation (test mode).
	InsecureSkipHostKeyCheck bool
}

// NewSFTPTransport constructs an SFTPTransport with an empty pool set.
func NewSFTPTransport() *SFTPTransport {
	return &SFTPTransport{pools: make(map[string]*hostPool)}
}

func (t *SFTPTransport) poolFor(loc Location) *hostPool {
	key := fmt.Sprintf("%s@%s:%d", loc.User, loc.Host, loc.Port)

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pools[key]; ok {
		return p
	}

	p := &hostPool{
		dial: func() (*pooledClient, error) {
			sshClient, err := DialSSH(loc.Host, loc.User, SSHOpts{
				Port:                     loc.Port,
				Password:                 loc.Pass,
				InsecureSkipHostKeyCheck: t.InsecureSkipHostKeyCheck,
			})
			if err != nil {
				return nil, fmt.Errorf("transport(sftp): dial %s: %w", key, err)
			}
			sftpClient, err := sftp.NewClient(sshClient)
			if err != nil {
				sshClient.Close()
				return nil, fmt.Errorf("transport(sftp): new client %s: %w", key, err)
			}
			return &pooledClient{sftp: sftpClient, ssh: sshClient}, nil
		},
	}
	t.pools[key] = p
	return p
}

// CopyStreamTo implements Transport for ssh:// and sftp:// URIs.
func (t *SFTPTransport) CopyStreamTo(ctx context.Context, source io.Reader, destinationURI string, opts CopyOptions) error {
	loc, err := ParseLocation(destinationURI)
	if err != nil {
		return err
	}
	if loc.Scheme != SchemeSFTP {
		return fmt.Errorf("%w: sftp transport given non-sftp uri %q", ErrBadURI, destinationURI)
	}

	pool := t.poolFor(loc)
	client, err := pool.acquire()
	if err != nil {
		return err
	}
	healthy := true
	defer func() { pool.release(client, healthy) }()

	dstPath := loc.Path
	dir := path.Dir(dstPath)
	if err := client.sftp.MkdirAll(dir); err != nil {
		healthy = false
		return fmt.Errorf("transport(sftp): mkdir %s: %w", dir, err)
	}

	tmpName := fmt.Sprintf(".%s.%s.fastcopy-tmp", path.Base(dstPath), uuid.New().String()[:8])
	tmpPath := path.Join(dir, tmpName)

	f, err := client.sftp.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		healthy = false
		return fmt.Errorf("transport(sftp): create temp %s: %w", tmpPath, err)
	}

	engineOpts := copyengine.Options{
		RateLimiter: opts.RateLimiter,
		PauseGate:   opts.PauseGate,
		OnProgress:  opts.OnProgress,
		KnownSize:   opts.KnownSize,
	}
	copyErr := copyengine.CopyStream(ctx, source, f, engineOpts)
	closeErr := f.Close()

	if copyErr != nil {
		_ = client.sftp.Remove(tmpPath)
		healthy = errHealthyAfter(copyErr)
		return copyErr
	}
	if closeErr != nil {
		_ = client.sftp.Remove(tmpPath)
		healthy = false
		return fmt.Errorf("transport(sftp): close temp %s: %w", tmpPath, closeErr)
	}

	if opts.Metadata != nil {
		applySFTPMetadata(client.sftp, tmpPath, *opts.Metadata)
	}

	_ = client.sftp.Remove(dstPath)
	if err := client.sftp.Rename(tmpPath, dstPath); err != nil {
		healthy = false
		return fmt.Errorf("transport(sftp): rename %s -> %s: %w", tmpPath, dstPath, err)
	}
	return nil
}

// errHealthyAfter reports whether the underlying connection is still
// usable after copyErr — context cancellation doesn't indicate a broken
// connection, but most I/O errors do, so the pool doesn't hand a
// half-dead connection back out.
func errHealthyAfter(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

func applySFTPMetadata(client *sftp.Client, remotePath string, opts MetadataOpts) {
	if opts.Mode {
		_ = client.Chmod(remotePath, os.FileMode(opts.FileMode).Perm())
	}
	if opts.Times {
		_ = client.Chtimes(remotePath, nsecToTime(opts.AccTime), nsecToTime(opts.ModTime))
	}
	if opts.Owner {
		_ = client.Chown(remotePath, int(opts.UID), int(opts.GID))
	}
	// Xattrs are not supported over SFTP.
}

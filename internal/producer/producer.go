// Package producer enumerates a copy source into a stream of job.CopyJob
// values: a single file, a directory recursed in parallel, or an external
// list of source/destination URI pairs read lazily.
package producer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/fastcopy/fastcopy/internal/job"
)

// Mode selects how a Producer enumerates its source.
type Mode int

const (
	// SingleFile emits exactly one job for a single source file.
	SingleFile Mode = iota
	// Directory recursively enumerates a source tree, one job per
	// regular file (plus symlink/hardlink/directory structural jobs).
	Directory
	// ExternalList reads source/destination URI pairs from an external
	// reader and emits jobs lazily as the caller drains the channel.
	ExternalList
)

// Config configures a Producer run.
type Config struct {
	Mode Mode

	// SourceRoot / DestinationRoot are used by SingleFile and Directory
	// modes. For Directory mode, destinations are DestinationRoot joined
	// to the path relative to SourceRoot.
	SourceRoot      string
	DestinationRoot string

	// ListSource supplies "source|destination" pairs, one per line, for
	// ExternalList mode. Lines starting with "#" or all-whitespace are
	// skipped; both sides are trimmed.
	ListSource io.Reader

	// Workers bounds the parallelism of the Directory-mode tree walk.
	// Defaults to min(NumCPU, 8).
	Workers int

	// SparseDetect enables SEEK_DATA/SEEK_HOLE segment detection for
	// regular files in Directory mode.
	SparseDetect bool

	// PreserveMetadata attaches a job.Metadata snapshot (mode/uid/gid/
	// times) to regular-file jobs in Directory mode. Directory jobs carry
	// one whether or not it is set; symlink and hardlink jobs never do.
	PreserveMetadata bool
}

// Producer walks a configured source and emits CopyJob values on a bounded
// channel, applying backpressure to the caller's consumption rate.
type Producer struct {
	cfg       Config
	jobs      chan job.CopyJob
	errs      chan error
	inodeSeen sync.Map // job.DevIno -> string (first path seen)
}

// New constructs a Producer for cfg.
func New(cfg Config) *Producer {
	if cfg.Workers <= 0 {
		cfg.Workers = min(runtime.NumCPU(), 8)
	}
	return &Producer{
		cfg:  cfg,
		jobs: make(chan job.CopyJob, cfg.Workers*4),
		errs: make(chan error, cfg.Workers*4),
	}
}

// Produce starts enumeration and returns the job and error channels. The
// caller must drain both until they close; Produce closes them itself once
// enumeration finishes or ctx is canceled.
func (p *Producer) Produce(ctx context.Context) (<-chan job.CopyJob, <-chan error) {
	go func() {
		defer close(p.jobs)
		defer close(p.errs)

		switch p.cfg.Mode {
		case SingleFile:
			p.produceSingleFile()
		case Directory:
			p.produceTree(ctx)
		case ExternalList:
			p.produceExternalList(ctx)
		default:
			p.sendErr(fmt.Errorf("producer: unknown mode %d", p.cfg.Mode))
		}
	}()
	return p.jobs, p.errs
}

func (p *Producer) produceSingleFile() {
	info, err := os.Stat(p.cfg.SourceRoot)
	if err != nil {
		p.sendErr(fmt.Errorf("producer: stat %s: %w", p.cfg.SourceRoot, err))
		return
	}
	if !info.Mode().IsRegular() {
		p.sendErr(fmt.Errorf("producer: %s is not a regular file", p.cfg.SourceRoot))
		return
	}
	p.jobs <- job.CopyJob{
		SourceURI:      p.cfg.SourceRoot,
		DestinationURI: p.cfg.DestinationRoot,
		KnownSizeBytes: info.Size(),
		Kind:           job.Regular,
	}
}

func (p *Producer) produceExternalList(ctx context.Context) {
	scanner := bufio.NewScanner(p.cfg.ListSource)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		if len(parts) != 2 {
			p.sendErr(fmt.Errorf("producer: malformed external list line %q", line))
			continue
		}

		j := job.CopyJob{
			SourceURI:      strings.TrimSpace(parts[0]),
			DestinationURI: strings.TrimSpace(parts[1]),
			KnownSizeBytes: job.UnknownSize,
			Kind:           job.Regular,
		}
		select {
		case p.jobs <- j:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		p.sendErr(fmt.Errorf("producer: read external list: %w", err))
	}
}

func (p *Producer) sendErr(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

// produceTree recurses the source directory in parallel, mirroring the
// teacher's scanner.go work-queue/outstanding shape.
func (p *Producer) produceTree(ctx context.Context) {
	workQueue := make(chan string, p.cfg.Workers*2)
	var outstanding sync.WaitGroup

	var workerWg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for dirPath := range workQueue {
				p.scanDir(ctx, dirPath, workQueue, &outstanding)
				outstanding.Done()
			}
		}()
	}

	outstanding.Add(1)
	workQueue <- p.cfg.SourceRoot

	outstanding.Wait()
	close(workQueue)
	workerWg.Wait()
}

func (p *Producer) scanDir(ctx context.Context, srcPath string, workQueue chan<- string, outstanding *sync.WaitGroup) {
	relPath, err := filepath.Rel(p.cfg.SourceRoot, srcPath)
	if err != nil {
		p.sendErr(fmt.Errorf("producer: rel path for %s: %w", srcPath, err))
		return
	}
	dstPath := filepath.Join(p.cfg.DestinationRoot, relPath)

	info, err := os.Lstat(srcPath)
	if err != nil {
		p.sendErr(fmt.Errorf("producer: lstat %s: %w", srcPath, err))
		return
	}

	if srcPath != p.cfg.SourceRoot {
		p.emitDirJob(info, srcPath, dstPath)
	}

	entries, err := os.ReadDir(srcPath)
	if err != nil {
		p.sendErr(fmt.Errorf("producer: readdir %s: %w", srcPath, err))
		return
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entryPath := filepath.Join(srcPath, entry.Name())
		entryDst := filepath.Join(dstPath, entry.Name())
		if err := p.processEntry(ctx, entryPath, entryDst, workQueue, outstanding); err != nil {
			p.sendErr(err)
		}
	}
}

func (p *Producer) emitDirJob(info os.FileInfo, srcPath, dstPath string) {
	j := job.CopyJob{
		SourceURI:      srcPath,
		DestinationURI: dstPath,
		KnownSizeBytes: 0,
		Kind:           job.Directory,
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		j.Metadata = p.metadataFrom(info, stat)
	}
	p.jobs <- j
}

func (p *Producer) processEntry(ctx context.Context, srcPath, dstPath string, workQueue chan<- string, outstanding *sync.WaitGroup) error {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return fmt.Errorf("producer: lstat %s: %w", srcPath, err)
	}
	mode := info.Mode()

	switch {
	case mode.IsDir():
		outstanding.Add(1)
		select {
		case workQueue <- srcPath:
		case <-ctx.Done():
			outstanding.Done()
			return ctx.Err()
		}
		return nil

	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("producer: readlink %s: %w", srcPath, err)
		}
		p.jobs <- job.CopyJob{
			SourceURI:      srcPath,
			DestinationURI: dstPath,
			KnownSizeBytes: 0,
			Kind:           job.Symlink,
			LinkTarget:     target,
		}
		return nil

	case mode.IsRegular():
		return p.processRegular(info, srcPath, dstPath)

	default:
		return nil
	}
}

func (p *Producer) processRegular(info os.FileInfo, srcPath, dstPath string) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		p.jobs <- job.CopyJob{SourceURI: srcPath, DestinationURI: dstPath, KnownSizeBytes: info.Size(), Kind: job.Regular}
		return nil
	}

	devino := job.DevIno{Dev: uint64(stat.Dev), Ino: stat.Ino}
	if stat.Nlink > 1 {
		if firstPath, seen := p.inodeSeen.LoadOrStore(devino, srcPath); seen {
			p.jobs <- job.CopyJob{
				SourceURI:      srcPath,
				DestinationURI: dstPath,
				Kind:           job.Hardlink,
				LinkTarget:     firstPath.(string),
				DevIno:         devino,
			}
			return nil
		}
	}

	var segments []job.Segment
	if p.cfg.SparseDetect && info.Size() > 0 {
		fd, err := os.Open(srcPath)
		if err != nil {
			return fmt.Errorf("producer: open %s for sparse detection: %w", srcPath, err)
		}
		segments, err = detectSparseSegments(fd, info.Size())
		fd.Close()
		if err != nil {
			return fmt.Errorf("producer: detect sparse %s: %w", srcPath, err)
		}
	}

	j := job.CopyJob{
		SourceURI:      srcPath,
		DestinationURI: dstPath,
		KnownSizeBytes: info.Size(),
		Kind:           job.Regular,
		DevIno:         devino,
		Segments:       segments,
	}
	if p.cfg.PreserveMetadata {
		j.Metadata = p.metadataFrom(info, stat)
	}
	p.jobs <- j
	return nil
}

func (p *Producer) metadataFrom(info os.FileInfo, stat *syscall.Stat_t) *job.Metadata {
	return &job.Metadata{
		Mode:    uint32(info.Mode()),
		UID:     stat.Uid,
		GID:     stat.Gid,
		ModTime: info.ModTime().UnixNano(),
		AccTime: atimeFromStat(stat).UnixNano(),
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

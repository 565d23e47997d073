// Package verify implements the optional post-copy BLAKE3 verification
// pass. It is never run automatically — the non-goal excluding built-in
// content verification guarantees means this is strictly an opt-in extra
// the Controller may run after drain.
package verify

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
)

// Config controls a verification pass.
type Config struct {
	SourceRoot      string
	DestinationRoot string
	Workers         int
}

// Result holds the outcome of a verification pass.
type Result struct {
	Verified   int64
	Failed     int64
	Mismatches []Mismatch
}

// Mismatch records a single checksum mismatch or unreadable file.
type Mismatch struct {
	RelPath      string
	SourceDigest string
	DestDigest   string
}

// Run walks the destination tree and compares BLAKE3 checksums against the
// corresponding source file for every regular file that exists on both
// sides, fanning out to cfg.Workers goroutines.
func Run(ctx context.Context, cfg Config) Result {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	files := collectFiles(ctx, cfg.DestinationRoot, cfg.SourceRoot)

	taskCh := make(chan string, workers*2)
	var mu sync.Mutex
	var result Result
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for relPath := range taskCh {
				select {
				case <-ctx.Done():
					return
				default:
				}
				verifyOne(cfg, relPath, &mu, &result)
			}
		}()
	}

	for _, f := range files {
		select {
		case <-ctx.Done():
		case taskCh <- f:
		}
	}
	close(taskCh)
	wg.Wait()

	return result
}

func verifyOne(cfg Config, relPath string, mu *sync.Mutex, result *Result) {
	srcPath := filepath.Join(cfg.SourceRoot, relPath)
	dstPath := filepath.Join(cfg.DestinationRoot, relPath)

	srcDigest, err := hashFile(srcPath)
	if err != nil {
		recordFailure(mu, result, Mismatch{RelPath: relPath, SourceDigest: "error", DestDigest: "n/a"})
		return
	}
	dstDigest, err := hashFile(dstPath)
	if err != nil {
		recordFailure(mu, result, Mismatch{RelPath: relPath, SourceDigest: srcDigest, DestDigest: "error"})
		return
	}
	if srcDigest != dstDigest {
		recordFailure(mu, result, Mismatch{RelPath: relPath, SourceDigest: srcDigest, DestDigest: dstDigest})
		return
	}

	mu.Lock()
	result.Verified++
	mu.Unlock()
}

func recordFailure(mu *sync.Mutex, result *Result, m Mismatch) {
	mu.Lock()
	result.Failed++
	result.Mismatches = append(result.Mismatches, m)
	mu.Unlock()
}

func collectFiles(ctx context.Context, dstRoot, srcRoot string) []string {
	var files []string
	_ = filepath.WalkDir(dstRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		relPath, err := filepath.Rel(dstRoot, path)
		if err != nil {
			return nil
		}
		if _, err := os.Lstat(filepath.Join(srcRoot, relPath)); err != nil {
			return nil
		}
		files = append(files, relPath)
		return nil
	})
	return files
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Package recoverystore implements the append-only dead-letter log (C7):
// permanently failed jobs are recorded here for a later retry run.
//
// The batching/flush-on-timer shape is carried over from the teacher's
// checkpoint.go (CheckpointDB's batched MarkCompleted + 500ms flushLoop),
// adapted here onto a flat append-only text stream instead of SQLite,
// since dead-letter records need no querying — only sequential replay.
package recoverystore

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fastcopy/fastcopy/internal/job"
)

const defaultFlushInterval = 5 * time.Second

// FailedJobRecord is one permanently-failed job.
type FailedJobRecord struct {
	Timestamp      time.Time
	SourceURI      string
	DestinationURI string
	FileSizeBytes  int64
	ErrorMessage   string
	OptionalTrace  string
}

// Store is a thread-safe, timer-flushed append-only record stream. Writes
// are batched in memory and flushed periodically and on Dispose.
type Store struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	file    *os.File
	path    string
	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// Open creates (or appends to) a recovery store file at dir, named with
// the current run's timestamp, and starts its background flush timer.
func Open(dir string, runStarted time.Time) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("recoverystore: mkdir %s: %w", dir, err)
	}
	name := fmt.Sprintf("fastcopy-failed-%s.log", runStarted.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("recoverystore: open %s: %w", path, err)
	}

	s := &Store{
		file: f,
		path: path,
		done: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// LogFailure appends one record. Thread-safe; non-blocking beyond
// serializing the in-memory buffer append.
func (s *Store) LogFailure(rec FailedJobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("recoverystore: store closed")
	}
	s.buf.WriteString(encodeRecord(rec))
	s.buf.WriteByte('\n')
	return nil
}

// Flush forces durability of any pending records.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if s.buf.Len() == 0 {
		return nil
	}
	if _, err := s.file.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("recoverystore: write: %w", err)
	}
	s.buf.Reset()
	return s.file.Sync()
}

func (s *Store) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.flushLocked()
			s.mu.Unlock()
		}
	}
}

// Dispose flushes any pending writes before closing, stopping the flush
// timer. Safe to call once.
func (s *Store) Dispose() error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
	flushErr := s.flushLocked()
	s.mu.Unlock()

	s.wg.Wait()
	if closeErr := s.file.Close(); closeErr != nil && flushErr == nil {
		flushErr = closeErr
	}
	return flushErr
}

// encodeRecord renders one record as a tab-separated, self-delimited
// textual line: timestamp, source, destination, size, message, trace.
func encodeRecord(r FailedJobRecord) string {
	fields := []string{
		strconv.FormatInt(r.Timestamp.UnixNano(), 10),
		escapeField(r.SourceURI),
		escapeField(r.DestinationURI),
		strconv.FormatInt(r.FileSizeBytes, 10),
		escapeField(r.ErrorMessage),
		escapeField(r.OptionalTrace),
	}
	return strings.Join(fields, "\t")
}

func escapeField(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\t", "\\t")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func unescapeField(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 't':
				out.WriteByte('\t')
				i++
				continue
			case 'n':
				out.WriteByte('\n')
				i++
				continue
			case '\\':
				out.WriteByte('\\')
				i++
				continue
			}
		}
		out.WriteByte(s[i])
	}
	return out.String()
}

// decodeRecord parses one line produced by encodeRecord.
func decodeRecord(line string) (FailedJobRecord, error) {
	parts := strings.SplitN(line, "\t", 6)
	if len(parts) < 5 {
		return FailedJobRecord{}, fmt.Errorf("recoverystore: malformed record: %q", line)
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return FailedJobRecord{}, fmt.Errorf("recoverystore: bad timestamp: %w", err)
	}
	size, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return FailedJobRecord{}, fmt.Errorf("recoverystore: bad size: %w", err)
	}
	rec := FailedJobRecord{
		Timestamp:      time.Unix(0, nanos).UTC(),
		SourceURI:      unescapeField(parts[1]),
		DestinationURI: unescapeField(parts[2]),
		FileSizeBytes:  size,
		ErrorMessage:   unescapeField(parts[4]),
	}
	if len(parts) == 6 {
		rec.OptionalTrace = unescapeField(parts[5])
	}
	return rec, nil
}

// ReadRecords reads every record from path in order. It does not require
// an open Store — it's the static reader a retry mode uses to replay a
// prior run's dead letters.
func ReadRecords(path string) ([]FailedJobRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recoverystore: open %s: %w", path, err)
	}
	defer f.Close()

	var records []FailedJobRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := decodeRecord(line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("recoverystore: scan %s: %w", path, err)
	}
	return records, nil
}

// ReadJobs reads path and returns the lazy finite sequence of CopyJobs it
// represents, for a retry run's Job Producer. Lazy here means "read once,
// replayed in order" — the sequence is materialized as a slice since the
// underlying file is read once up front; callers requiring incremental
// delivery should range over it into a bounded channel themselves.
func ReadJobs(path string) ([]job.CopyJob, error) {
	records, err := ReadRecords(path)
	if err != nil {
		return nil, err
	}
	jobs := make([]job.CopyJob, 0, len(records))
	for _, r := range records {
		jobs = append(jobs, job.CopyJob{
			SourceURI:      r.SourceURI,
			DestinationURI: r.DestinationURI,
			KnownSizeBytes: r.FileSizeBytes,
		})
	}
	return jobs, nil
}

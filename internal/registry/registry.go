// Package registry implements the Progress Registry (C11): a thread-safe,
// keyed registry of job.ActiveTransfer entries. The owning worker is the
// sole writer of its own entry; the external UI (out of scope per the
// spec) consumes Snapshot for reads, the same write/read split as the
// teacher's event.Event producer/consumer boundary and internal/stats's
// atomic counters.
package registry

import (
	"sync"

	"github.com/fastcopy/fastcopy/internal/job"
)

// Registry maps source URI to ActiveTransfer. Entries are inserted when a
// worker takes the job and removed when the job terminates.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*job.ActiveTransfer
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*job.ActiveTransfer)}
}

// Start inserts a new Pending entry for a job the caller is about to
// execute, returning the entry for the worker to mutate directly as the
// copy progresses. The worker is the entry's single writer.
func (r *Registry) Start(j job.CopyJob) *job.ActiveTransfer {
	t := &job.ActiveTransfer{
		SourceURI:      j.SourceURI,
		DestinationURI: j.DestinationURI,
		TotalBytes:     j.KnownSizeBytes,
		Status:         job.Pending,
	}
	r.mu.Lock()
	r.entries[j.SourceURI] = t
	r.mu.Unlock()
	return t
}

// Remove deletes the entry for sourceURI, called on worker exit
// regardless of outcome.
func (r *Registry) Remove(sourceURI string) {
	r.mu.Lock()
	delete(r.entries, sourceURI)
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of every current entry. A stale
// snapshot may briefly include entries that have since finished.
func (r *Registry) Snapshot() []job.ActiveTransfer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]job.ActiveTransfer, 0, len(r.entries))
	for _, t := range r.entries {
		out = append(out, *t)
	}
	return out
}

// Aggregate is a pure function of a snapshot: counts by status, total
// bytes transferred, and averaged speed.
type Aggregate struct {
	CountByStatus      map[job.Status]int
	TotalBytes         int64
	AverageBytesPerSec float64
}

// AggregateSnapshot reduces a snapshot into roll-up counters.
func AggregateSnapshot(snapshot []job.ActiveTransfer) Aggregate {
	agg := Aggregate{CountByStatus: make(map[job.Status]int)}
	if len(snapshot) == 0 {
		return agg
	}

	var speedSum float64
	for _, t := range snapshot {
		agg.CountByStatus[t.Status]++
		agg.TotalBytes += t.BytesTransferred
		speedSum += t.BytesPerSecond
	}
	agg.AverageBytesPerSec = speedSum / float64(len(snapshot))
	return agg
}

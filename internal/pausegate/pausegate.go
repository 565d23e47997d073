// Package pausegate implements the observable pause/resume latch (C2): a
// guarded single-slot completion handle. While paused, the handle exists
// and is unresolved; resume closes it and clears it so every waiter
// currently parked on it wakes, and the next Pause creates a fresh handle.
// Waiters that arrive mid-pause attach to whatever handle is current at
// the moment they call WaitWhilePaused.
package pausegate

import (
	"context"
	"sync"
)

// Gate is thread-safe and idempotent: calling Pause or Resume twice in a
// row has no additional effect.
type Gate struct {
	mu     sync.Mutex
	paused bool
	handle chan struct{} // non-nil only while paused
}

// New returns a Gate in the running (not paused) state.
func New() *Gate {
	return &Gate{}
}

// Pause transitions the gate to paused. Idempotent.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.handle = make(chan struct{})
}

// Resume transitions the gate to running, waking every waiter parked on
// the current handle. Idempotent.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.handle)
	g.handle = nil
}

// Toggle flips the current state.
func (g *Gate) Toggle() {
	g.mu.Lock()
	wasPaused := g.paused
	g.mu.Unlock()
	if wasPaused {
		g.Resume()
	} else {
		g.Pause()
	}
}

// IsPaused reports the current state.
func (g *Gate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// WaitWhilePaused returns immediately if the gate is running. If paused,
// it suspends without spinning until Resume is called or ctx is done. A
// cancellation race unregisters the waiter implicitly — select just stops
// listening on the handle, it never needs to notify anyone back.
func (g *Gate) WaitWhilePaused(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.paused {
			g.mu.Unlock()
			return nil
		}
		handle := g.handle
		g.mu.Unlock()

		select {
		case <-handle:
			// Resumed; loop to re-check in case another Pause raced in.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

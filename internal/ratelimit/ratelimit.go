// Package ratelimit implements the global token-bucket rate limiter (C1).
//
// Unlike the teacher's golang.org/x/time/rate wrapper — which serializes
// every WaitN behind an internal mutex — state here lives entirely in
// atomics and is updated through CAS loops, so concurrent workers never
// block each other taking a lock; they only ever wait on the token supply
// itself.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// scale gives the token bucket sub-byte precision: all token counts are
// stored multiplied by scale and divided back out at the debit boundary.
const scale = 1000

const (
	minBackoff = 1 * time.Millisecond
	maxBackoff = 20 * time.Millisecond
)

// Limiter is a lock-free global token bucket shared by every worker.
// The zero value is not usable; construct with New.
type Limiter struct {
	tokens     atomic.Int64 // scaled
	max        atomic.Int64 // scaled
	refillRate atomic.Int64 // scaled tokens per second
	lastRefill atomic.Int64 // unix nanos
	bypass     atomic.Bool
	nowFunc    func() time.Time
}

// New constructs a Limiter capped at bytesPerSecond. A limit of 0 starts
// the limiter in bypass mode (unlimited).
func New(bytesPerSecond int64) *Limiter {
	l := &Limiter{nowFunc: time.Now}
	l.lastRefill.Store(l.nowFunc().UnixNano())
	l.SetLimit(bytesPerSecond)
	return l
}

// SetLimit atomically retargets the bucket. 0 enables bypass mode (no
// waiting). Retargeting to a smaller limit caps the current token count to
// the new maximum so a subsequent burst can't exceed it. Negative rate
// strings are rejected by internal/ratesize; Controller.SetRate passes its
// argument through unchecked, and SetLimit itself clamps negatives to 0.
func (l *Limiter) SetLimit(bytesPerSecond int64) {
	if bytesPerSecond <= 0 {
		l.bypass.Store(true)
		l.refillRate.Store(0)
		l.max.Store(0)
		l.tokens.Store(0)
		return
	}

	scaled := bytesPerSecond * scale
	l.refillRate.Store(scaled)
	l.max.Store(scaled) // burst window of one second, per spec invariant (a)
	l.bypass.Store(false)

	for {
		cur := l.tokens.Load()
		if cur <= scaled {
			return
		}
		if l.tokens.CompareAndSwap(cur, scaled) {
			return
		}
	}
}

// GetLimit returns the currently configured rate in bytes/second. 0 means
// bypass.
func (l *Limiter) GetLimit() int64 {
	if l.bypass.Load() {
		return 0
	}
	return l.refillRate.Load() / scale
}

// Consume blocks the caller until n bytes worth of tokens can be debited,
// or cancel is done. Safe for concurrent use by any number of callers.
func (l *Limiter) Consume(ctx context.Context, n int64) error {
	if n <= 0 {
		return nil
	}
	if l.bypass.Load() {
		return nil
	}

	required := n * scale
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.bypass.Load() {
			return nil
		}

		l.refill()

		for {
			cur := l.tokens.Load()
			if cur < required {
				break
			}
			if l.tokens.CompareAndSwap(cur, cur-required) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// refill adds elapsed-time tokens exactly once per elapsed interval: the
// CAS on lastRefill ensures only one concurrent caller performs the credit,
// so the add-then-cap sequence below never double-credits.
func (l *Limiter) refill() {
	now := l.nowFunc().UnixNano()
	last := l.lastRefill.Load()
	elapsed := now - last
	if elapsed <= 0 {
		return
	}
	if !l.lastRefill.CompareAndSwap(last, now) {
		return // another goroutine claimed this interval
	}

	rate := l.refillRate.Load()
	if rate == 0 {
		return
	}
	add := (elapsed * rate) / int64(time.Second)
	if add <= 0 {
		return
	}

	max := l.max.Load()
	for {
		cur := l.tokens.Load()
		next := cur + add
		if next > max {
			next = max
		}
		if l.tokens.CompareAndSwap(cur, next) {
			return
		}
	}
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BypassWhenZero(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Consume(ctx, 1<<30))
}

func TestLimiter_ConsumeWithinBudget(t *testing.T) {
	l := New(1 << 20) // 1 MB/s
	ctx := context.Background()
	require.NoError(t, l.Consume(ctx, 1024))
	assert.Equal(t, int64(1<<20), l.GetLimit())
}

func TestLimiter_SetLimitCapsTokens(t *testing.T) {
	l := New(10 << 20)
	time.Sleep(5 * time.Millisecond)
	l.refill()
	l.SetLimit(1 << 10)
	assert.LessOrEqual(t, l.tokens.Load(), int64(1<<10)*scale)
}

func TestLimiter_RetargetToZeroUnblocksParkedCaller(t *testing.T) {
	l := New(1) // 1 byte/sec, forces a park
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- l.Consume(ctx, 1<<20)
	}()

	time.Sleep(10 * time.Millisecond)
	l.SetLimit(0)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after retarget to bypass")
	}
}

func TestLimiter_CancellationExitsPromptly(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Consume(ctx, 1<<20)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiter_NegativeCollapsesToBypass(t *testing.T) {
	l := New(-5)
	assert.Equal(t, int64(0), l.GetLimit())
}

package pausegate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_RunningReturnsImmediately(t *testing.T) {
	g := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, g.WaitWhilePaused(ctx))
}

func TestGate_PauseThenResumeUnblocks(t *testing.T) {
	g := New()
	g.Pause()
	assert.True(t, g.IsPaused())

	done := make(chan error, 1)
	go func() {
		done <- g.WaitWhilePaused(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("waiter returned before resume")
	default:
	}

	g.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter did not unblock after resume")
	}
	assert.False(t, g.IsPaused())
}

func TestGate_IdempotentPauseResume(t *testing.T) {
	g := New()
	g.Pause()
	g.Pause()
	assert.True(t, g.IsPaused())
	g.Resume()
	g.Resume()
	assert.False(t, g.IsPaused())
}

func TestGate_CancellationUnregisters(t *testing.T) {
	g := New()
	g.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.WaitWhilePaused(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_Toggle(t *testing.T) {
	g := New()
	g.Toggle()
	assert.True(t, g.IsPaused())
	g.Toggle()
	assert.False(t, g.IsPaused())
}

func TestGate_NewWaiterDuringPauseAttachesToCurrentHandle(t *testing.T) {
	g := New()
	g.Pause()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- g.WaitWhilePaused(context.Background())
		}()
	}
	time.Sleep(5 * time.Millisecond)
	g.Resume()

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter did not unblock")
		}
	}
}

package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdog_InitialCeiling(t *testing.T) {
	w, err := New(8, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, w.Ceiling())
}

func TestWatchdog_SamplePublishesSnapshot(t *testing.T) {
	w, err := New(4, 0)
	require.NoError(t, err)
	w.sample()
	snap := w.Latest()
	assert.Equal(t, 4, snap.CurrentParallelismCeiling)
}

func TestWatchdog_StartStop(t *testing.T) {
	w, err := New(4, 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	time.Sleep(5 * time.Millisecond)
	cancel()
	w.Stop()
}

func TestWatchdog_NoThrottleWithoutMemoryCap(t *testing.T) {
	w, err := New(4, 0)
	require.NoError(t, err)
	w.sample()
	assert.False(t, w.Latest().Throttled)
	assert.Equal(t, 4, w.Ceiling())
}

func TestWatchdog_ThrottlesWhenOverCap(t *testing.T) {
	w, err := New(4, 1) // 1 byte cap guarantees RSS exceeds it
	require.NoError(t, err)
	w.sample()
	assert.LessOrEqual(t, w.Ceiling(), 4)
	if w.Latest().MemoryBytes > 1 {
		assert.True(t, w.Latest().Throttled)
	}
}

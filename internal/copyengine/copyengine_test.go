package copyengine

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastcopy/fastcopy/internal/pausegate"
	"github.com/fastcopy/fastcopy/internal/ratelimit"
)

func TestCopyStream_ByteForByte(t *testing.T) {
	content := strings.Repeat("the quick brown fox ", 10000)
	src := strings.NewReader(content)
	var dst bytes.Buffer

	err := CopyStream(context.Background(), src, &dst, Options{KnownSize: int64(len(content))})
	require.NoError(t, err)
	assert.Equal(t, content, dst.String())
}

func TestCopyStream_ZeroByteSource(t *testing.T) {
	var dst bytes.Buffer
	called := false
	err := CopyStream(context.Background(), strings.NewReader(""), &dst, Options{
		OnProgress: func(total, known int64, speed float64) {
			called = true
			assert.Zero(t, total)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, dst.Len())
	assert.True(t, called)
}

func TestCopyStream_ProgressMonotonicallyIncreases(t *testing.T) {
	content := strings.Repeat("x", segmentBufSize*3+17)
	var dst bytes.Buffer
	var last int64
	err := CopyStream(context.Background(), strings.NewReader(content), &dst, Options{
		OnProgress: func(total, known int64, speed float64) {
			assert.GreaterOrEqual(t, total, last)
			last = total
		},
	})
	require.NoError(t, err)
	assert.EqualValues(t, len(content), last)
}

func TestCopyStream_CancellationExitsPromptly(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytes.Buffer
	err := CopyStream(ctx, r, &dst, Options{})
	assert.Error(t, err)
}

func TestCopyStream_PauseGateHonored(t *testing.T) {
	gate := pausegate.New()
	gate.Pause()

	done := make(chan error, 1)
	go func() {
		var dst bytes.Buffer
		done <- CopyStream(context.Background(), strings.NewReader("hello"), &dst, Options{PauseGate: gate})
	}()

	select {
	case <-done:
		t.Fatal("copy completed before resume")
	case <-time.After(20 * time.Millisecond):
	}

	gate.Resume()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("copy did not complete after resume")
	}
}

func TestCopyStream_RateLimiterApplied(t *testing.T) {
	limiter := ratelimit.New(1 << 30) // generous, should not block meaningfully
	var dst bytes.Buffer
	err := CopyStream(context.Background(), strings.NewReader("payload"), &dst, Options{RateLimiter: limiter})
	require.NoError(t, err)
	assert.Equal(t, "payload", dst.String())
}

func TestCopyFile_WritesByteIdenticalCopy(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	dstPath := filepath.Join(dir, "dst.bin")

	content := []byte(strings.Repeat("data", 5000))
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	err := CopyFile(context.Background(), srcPath, dstPath, int64(len(content)), Options{})
	require.NoError(t, err)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestSizeBoundedReader_FailsOnShortSource(t *testing.T) {
	r := NewSizeBoundedReader(strings.NewReader("short"), 100)
	_, err := io.ReadAll(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source ended prematurely")
}

func TestSizeBoundedReader_ExactSizeSucceeds(t *testing.T) {
	content := "exact"
	r := NewSizeBoundedReader(strings.NewReader(content), int64(len(content)))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_CopyTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "root.txt"), []byte("root file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "nested.txt"), []byte("nested"), 0o644))

	ctx := context.Background()
	c, err := New(ctx, Options{
		SourceRoot:       src,
		DestinationRoot:  dst,
		MaxParallelism:   2,
		MaxRetries:       1,
		PreserveMetadata: true,
		JournalPath:      filepath.Join(dir, "test.journal"),
		RecoveryDir:      dir,
	})
	require.NoError(t, err)

	summary := c.Run(ctx)
	require.NoError(t, summary.Err)
	assert.Equal(t, int64(2), summary.Stats.FilesCopied)
	assert.Greater(t, summary.Stats.DirsCreated, int64(0))

	got, err := os.ReadFile(filepath.Join(dst, "root.txt"))
	require.NoError(t, err)
	assert.Equal(t, "root file", string(got))

	got, err = os.ReadFile(filepath.Join(dst, "sub", "nested.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(got))
}

func TestController_DryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("data"), 0o644))

	ctx := context.Background()
	c, err := New(ctx, Options{
		SourceRoot:      src,
		DestinationRoot: dst,
		MaxParallelism:  1,
		DryRun:          true,
		JournalPath:     filepath.Join(dir, "test.journal"),
		RecoveryDir:     dir,
	})
	require.NoError(t, err)

	summary := c.Run(ctx)
	require.NoError(t, summary.Err)
	assert.Equal(t, int64(1), summary.Stats.FilesScanned)
	assert.Equal(t, int64(0), summary.Stats.FilesCopied)

	_, err = os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestController_DeleteSourceRemovesOriginal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	require.NoError(t, os.MkdirAll(src, 0o755))
	srcFile := filepath.Join(src, "a.txt")
	require.NoError(t, os.WriteFile(srcFile, []byte("data"), 0o644))

	ctx := context.Background()
	c, err := New(ctx, Options{
		SourceRoot:      src,
		DestinationRoot: dst,
		MaxParallelism:  1,
		DeleteSource:    true,
		JournalPath:     filepath.Join(dir, "test.journal"),
		RecoveryDir:     dir,
	})
	require.NoError(t, err)

	summary := c.Run(ctx)
	require.NoError(t, summary.Err)

	_, err = os.Stat(srcFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
}

func TestController_VerifyAfterReportsMatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("data"), 0o644))

	ctx := context.Background()
	c, err := New(ctx, Options{
		SourceRoot:      src,
		DestinationRoot: dst,
		MaxParallelism:  1,
		VerifyAfter:     true,
		JournalPath:     filepath.Join(dir, "test.journal"),
		RecoveryDir:     dir,
	})
	require.NoError(t, err)

	summary := c.Run(ctx)
	require.NoError(t, summary.Err)
	require.NotNil(t, summary.Verify)
	assert.Equal(t, int64(1), summary.Verify.Verified)
	assert.Equal(t, int64(0), summary.Verify.Failed)
}

func TestController_PauseResumeDoNotDeadlock(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("data"), 0o644))

	ctx := context.Background()
	c, err := New(ctx, Options{
		SourceRoot:      src,
		DestinationRoot: dst,
		MaxParallelism:  1,
		JournalPath:     filepath.Join(dir, "test.journal"),
		RecoveryDir:     dir,
	})
	require.NoError(t, err)

	c.Pause()
	c.Resume()
	c.SetRate(1 << 20)

	summary := c.Run(ctx)
	require.NoError(t, summary.Err)
}

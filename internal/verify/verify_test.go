package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_MatchingFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "sub"), 0o755))

	for _, relPath := range []string{"a.txt", "sub/b.txt"} {
		data := []byte("content of " + relPath)
		require.NoError(t, os.WriteFile(filepath.Join(src, relPath), data, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dst, relPath), data, 0o644))
	}

	result := Run(context.Background(), Config{SourceRoot: src, DestinationRoot: dst, Workers: 2})

	assert.Equal(t, int64(2), result.Verified)
	assert.Equal(t, int64(0), result.Failed)
	assert.Empty(t, result.Mismatches)
}

func TestRun_CorruptedFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(dst, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("original"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "a.txt"), []byte("corrupted"), 0o644))

	result := Run(context.Background(), Config{SourceRoot: src, DestinationRoot: dst})

	assert.Equal(t, int64(0), result.Verified)
	assert.Equal(t, int64(1), result.Failed)
	require.Len(t, result.Mismatches, 1)
	assert.Equal(t, "a.txt", result.Mismatches[0].RelPath)
}

func TestRun_SkipsFilesMissingFromSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(dst, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dst, "only-in-dst.txt"), []byte("x"), 0o644))

	result := Run(context.Background(), Config{SourceRoot: src, DestinationRoot: dst})

	assert.Equal(t, int64(0), result.Verified)
	assert.Equal(t, int64(0), result.Failed)
}

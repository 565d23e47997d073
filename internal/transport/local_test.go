package transport

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTransport_CopyStreamTo_ByteIdentical(t *testing.T) {
	dir := t.TempDir()
	dstPath := filepath.Join(dir, "nested", "out.bin")
	content := strings.Repeat("payload", 10000)

	tr := NewLocalTransport()
	err := tr.CopyStreamTo(context.Background(), strings.NewReader(content), dstPath, CopyOptions{KnownSize: int64(len(content))})
	require.NoError(t, err)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestLocalTransport_RejectsNonLocalURI(t *testing.T) {
	tr := NewLocalTransport()
	err := tr.CopyStreamTo(context.Background(), strings.NewReader(""), "ssh://host/path", CopyOptions{})
	assert.Error(t, err)
}

func TestLocalTransport_NoTempFileLeftOnFailure(t *testing.T) {
	dir := t.TempDir()
	dstPath := filepath.Join(dir, "out.bin")

	failing := &failingReader{}
	tr := NewLocalTransport()
	err := tr.CopyStreamTo(context.Background(), failing, dstPath, CopyOptions{KnownSize: 10})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingReader struct{}

func (f *failingReader) Read(p []byte) (int, error) {
	return 0, assertErr
}

var assertErr = &readErr{"boom"}

type readErr struct{ msg string }

func (e *readErr) Error() string { return e.msg }

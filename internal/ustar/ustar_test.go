package ustar

import (
	"archive/tar"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, f *Framer) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := io.Copy(&buf, f)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestFramer_TotalLength(t *testing.T) {
	f := New(strings.NewReader("hello\n"), "a.txt", 6)
	out := drain(t, f)
	assert.Equal(t, 512+6+506+1024, len(out))
	assert.EqualValues(t, 2048, f.TotalLen())
}

func TestFramer_ZeroByteSource(t *testing.T) {
	f := New(strings.NewReader(""), "empty.txt", 0)
	out := drain(t, f)
	assert.Equal(t, 512+1024, len(out))
}

func TestFramer_ExactBlockBoundary(t *testing.T) {
	content := strings.Repeat("x", 512)
	f := New(strings.NewReader(content), "block.bin", 512)
	out := drain(t, f)
	assert.Equal(t, 512+512+0+1024, len(out))
}

func TestFramer_RoundTripViaIndependentParser(t *testing.T) {
	content := "the quick brown fox jumps over the lazy dog\n"
	f := New(strings.NewReader(content), "fox.txt", int64(len(content)))
	out := drain(t, f)

	tr := tar.NewReader(bytes.NewReader(out))
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "fox.txt", hdr.Name)
	assert.EqualValues(t, len(content), hdr.Size)
	assert.Equal(t, byte(tar.TypeReg), hdr.Typeflag)

	got, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramer_SourceEndedPrematurely(t *testing.T) {
	f := New(strings.NewReader("short"), "big.bin", 1000)
	_, err := io.Copy(io.Discard, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source ended prematurely")
}

func TestFramer_LongNameTruncatedTo100(t *testing.T) {
	longName := strings.Repeat("n", 150)
	f := New(strings.NewReader(""), longName, 0)
	assert.Equal(t, strings.Repeat("n", 100), string(bytes.TrimRight(f.header[0:100], "\x00")))
}

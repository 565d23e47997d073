package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LocalScheme(t *testing.T) {
	tr, loc, err := New("/tmp/dest.bin")
	require.NoError(t, err)
	assert.Equal(t, SchemeLocal, loc.Scheme)
	_, ok := tr.(*LocalTransport)
	assert.True(t, ok)
}

func TestNew_UnknownSchemeRejectedAtBoundary(t *testing.T) {
	_, _, err := New("gopher://host/path")
	assert.ErrorIs(t, err, ErrBadURI)
}

func TestNew_SFTPScheme(t *testing.T) {
	tr, loc, err := New("ssh://user@host/path")
	require.NoError(t, err)
	assert.Equal(t, SchemeSFTP, loc.Scheme)
	_, ok := tr.(*SFTPTransport)
	assert.True(t, ok)
}

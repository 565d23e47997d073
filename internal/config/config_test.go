package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastcopy/fastcopy/internal/config"
)

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.RateLimit)
	assert.Nil(t, cfg.Defaults.Workers)
	assert.Nil(t, cfg.Defaults.StopOnError)
}

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "fastcopy")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	content := `
[defaults]
rate_limit = "100MB"
workers = 16
max_memory_bytes = 2147483648
max_retries = 3
stop_on_error = false
verify_after = true
journal_path = "/var/lib/fastcopy/fastcopy.journal"
recovery_dir = "/var/lib/fastcopy/recovery"
quiet = true
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.RateLimit)
	assert.Equal(t, "100MB", *cfg.Defaults.RateLimit)

	require.NotNil(t, cfg.Defaults.Workers)
	assert.Equal(t, 16, *cfg.Defaults.Workers)

	require.NotNil(t, cfg.Defaults.MaxMemoryBytes)
	assert.Equal(t, int64(2147483648), *cfg.Defaults.MaxMemoryBytes)

	require.NotNil(t, cfg.Defaults.StopOnError)
	assert.False(t, *cfg.Defaults.StopOnError)

	require.NotNil(t, cfg.Defaults.VerifyAfter)
	assert.True(t, *cfg.Defaults.VerifyAfter)

	require.NotNil(t, cfg.Defaults.JournalPath)
	assert.Equal(t, "/var/lib/fastcopy/fastcopy.journal", *cfg.Defaults.JournalPath)
}

func TestLoad_PartialConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "fastcopy")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	content := `
[defaults]
workers = 4
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.Workers)
	assert.Equal(t, 4, *cfg.Defaults.Workers)
	assert.Nil(t, cfg.Defaults.RateLimit)
	assert.Nil(t, cfg.Defaults.StopOnError)
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "fastcopy")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte("invalid [[["), 0o644))

	_, err := config.Load()
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/fastcopy/config.toml", config.Path())
}

// Package config loads the optional FastCopy configuration file: persistent
// defaults for the flags/options the cmd boundary exposes over the
// Controller. Following the teacher's config.go pattern, every field is a
// pointer so "unset" and "explicit zero" are distinguishable (a configured
// rate limit of 0 differs from no configured rate limit at all).
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional FastCopy configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds persistent flag defaults for the Controller's
// options (spec §4.12): rate limit, worker count, retry/stop-on-error
// policy, verification, and the Journal/Recovery Store locations.
type DefaultsConfig struct {
	RateLimit      *string `toml:"rate_limit"`
	Workers        *int    `toml:"workers"`
	MaxMemoryBytes *int64  `toml:"max_memory_bytes"`
	MaxRetries     *int    `toml:"max_retries"`
	StopOnError    *bool   `toml:"stop_on_error"`
	VerifyAfter    *bool   `toml:"verify_after"`
	JournalPath    *string `toml:"journal_path"`
	RecoveryDir    *string `toml:"recovery_dir"`
	Quiet          *bool   `toml:"quiet"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "fastcopy", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

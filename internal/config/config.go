// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for docchat.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file location (in order of precedence):
//   - ~/.docchat/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/docchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete docchat configuration.
type Config struct {
	// BackendURL is the base URL of the backend API.
	BackendURL string `toml:"backend_url"`

	// UserID identifies the user to the backend.
	UserID string `toml:"user_id"`

	// RequestTimeoutSecs is the timeout for REST requests in seconds.
	// Streaming answers are not bounded by it.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`

	// History configuration
	History HistoryConfig `toml:"history"`

	// Upload configuration
	Upload UploadConfig `toml:"upload"`
}

// HistoryConfig contains local history cache configuration.
type HistoryConfig struct {
	// Enabled turns the local SQLite cache on.
	Enabled bool `toml:"enabled"`
	// Path is the cache database path (empty = ~/.docchat/history.db).
	Path string `toml:"path"`
}

// UploadConfig contains document upload configuration.
type UploadConfig struct {
	// MaxFiles is the largest batch to send in one upload.
	MaxFiles int `toml:"max_files"`
	// MaxFileSizeMB is the per-file size limit in megabytes.
	MaxFileSizeMB int `toml:"max_file_size_mb"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		BackendURL:         "http://localhost:8000/api/v1",
		UserID:             "default",
		RequestTimeoutSecs: 30,
		History: HistoryConfig{
			Enabled: true,
		},
		Upload: UploadConfig{
			MaxFiles:      10,
			MaxFileSizeMB: 25,
		},
	}
}

// RequestTimeout returns the REST timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// HistoryPath returns the cache database path, resolving the default.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the docchat configuration directory (~/.docchat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".docchat"), nil
}

// ConfigPath returns the path of the TOML configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir creates the configuration directory if needed.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// =============================================================================
// LOADING
// =============================================================================

// Load loads the configuration from the default location.
// Missing files fall back to defaults. Environment overrides apply last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads the configuration from an explicit file path.
// A missing file is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides:
//   - DOCCHAT_BACKEND_URL: overrides backend_url
//   - DOCCHAT_USER_ID: overrides user_id
//   - DOCCHAT_TIMEOUT_SECS: overrides request_timeout_secs
//   - DOCCHAT_HISTORY: enables/disables the history cache
func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("DOCCHAT_BACKEND_URL"); u != "" {
		c.BackendURL = u
	}
	if id := os.Getenv("DOCCHAT_USER_ID"); id != "" {
		c.UserID = id
	}
	if secs := os.Getenv("DOCCHAT_TIMEOUT_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			c.RequestTimeoutSecs = n
		}
	}
	if h := os.Getenv("DOCCHAT_HISTORY"); h != "" {
		c.History.Enabled = h == "1" || strings.ToLower(h) == "true"
	}
}

// SetDefaults fills zero values with their defaults.
func (c *Config) SetDefaults() {
	def := Default()
	if c.BackendURL == "" {
		c.BackendURL = def.BackendURL
	}
	if c.UserID == "" {
		c.UserID = def.UserID
	}
	if c.RequestTimeoutSecs <= 0 {
		c.RequestTimeoutSecs = def.RequestTimeoutSecs
	}
	if c.Upload.MaxFiles <= 0 {
		c.Upload.MaxFiles = def.Upload.MaxFiles
	}
	if c.Upload.MaxFileSizeMB <= 0 {
		c.Upload.MaxFileSizeMB = def.Upload.MaxFileSizeMB
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("backend_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("backend_url: missing host")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("user_id: must not be empty")
	}
	if c.RequestTimeoutSecs <= 0 {
		return fmt.Errorf("request_timeout_secs: must be positive")
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to the default location atomically.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration to an explicit file path atomically.
func SaveToPath(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// =============================================================================
// GLOBAL INSTANCE
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global state. Tests only.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.BackendURL == "" {
		t.Error("default backend URL should not be empty")
	}
	if cfg.RequestTimeoutSecs <= 0 {
		t.Error("default timeout should be positive")
	}
	if !cfg.History.Enabled {
		t.Error("history cache should default to enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
backend_url = "https://docchat.example.com/api/v1"
user_id = "alice"
request_timeout_secs = 10

[history]
enabled = false

[upload]
max_files = 5
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.BackendURL != "https://docchat.example.com/api/v1" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.UserID != "alice" {
		t.Errorf("UserID = %q", cfg.UserID)
	}
	if cfg.RequestTimeout() != 10*time.Second {
		t.Errorf("RequestTimeout() = %v", cfg.RequestTimeout())
	}
	if cfg.History.Enabled {
		t.Error("history should be disabled")
	}
	if cfg.Upload.MaxFiles != 5 {
		t.Errorf("Upload.MaxFiles = %d", cfg.Upload.MaxFiles)
	}
	// Unset values fall back to defaults.
	if cfg.Upload.MaxFileSizeMB != Default().Upload.MaxFileSizeMB {
		t.Errorf("Upload.MaxFileSizeMB = %d, want default", cfg.Upload.MaxFileSizeMB)
	}
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.BackendURL != Default().BackendURL {
		t.Errorf("BackendURL = %q, want default", cfg.BackendURL)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DOCCHAT_BACKEND_URL", "http://10.0.0.5:9000/api/v1")
	t.Setenv("DOCCHAT_USER_ID", "bob")
	t.Setenv("DOCCHAT_TIMEOUT_SECS", "7")
	t.Setenv("DOCCHAT_HISTORY", "false")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.BackendURL != "http://10.0.0.5:9000/api/v1" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.UserID != "bob" {
		t.Errorf("UserID = %q", cfg.UserID)
	}
	if cfg.RequestTimeoutSecs != 7 {
		t.Errorf("RequestTimeoutSecs = %d", cfg.RequestTimeoutSecs)
	}
	if cfg.History.Enabled {
		t.Error("history should be disabled via env")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad scheme", func(c *Config) { c.BackendURL = "ftp://host/api" }, "scheme"},
		{"no host", func(c *Config) { c.BackendURL = "http://" }, "host"},
		{"empty user", func(c *Config) { c.UserID = "  " }, "user_id"},
		{"zero timeout", func(c *Config) { c.RequestTimeoutSecs = 0 }, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.UserID = "carol"
	cfg.Upload.MaxFiles = 3
	if err := SaveToPath(cfg, path); err != nil {
		t.Fatalf("SaveToPath() error = %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.UserID != "carol" {
		t.Errorf("UserID = %q", loaded.UserID)
	}
	if loaded.Upload.MaxFiles != 3 {
		t.Errorf("Upload.MaxFiles = %d", loaded.Upload.MaxFiles)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 0600", perm)
	}
}

// TestConfig_ConcurrentAccess tests that Global(), SetGlobal(), and
// ReloadGlobal() can be safely called concurrently.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()

		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`user_id = "before"`), 0600); err != nil {
		t.Fatal(err)
	}

	loaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) { loaded <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	if err := w.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte(`user_id = "after"`), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-loaded:
		if cfg.UserID != "after" {
			t.Errorf("reloaded UserID = %q, want %q", cfg.UserID, "after")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload within 5s")
	}
}

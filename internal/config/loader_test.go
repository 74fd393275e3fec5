package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg.Remote.RequestTimeout != 15*time.Second {
		t.Errorf("request_timeout = %v, want 15s", cfg.Remote.RequestTimeout)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("sync.interval = %v, want 30s", cfg.Sync.Interval)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("sync.max_retries = %d, want 3", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.ReplayConcurrency != 4 {
		t.Errorf("sync.replay_concurrency = %d, want 4", cfg.Sync.ReplayConcurrency)
	}
	if cfg.Connectivity.ProbeInterval != 10*time.Second {
		t.Errorf("probe_interval = %v, want 10s", cfg.Connectivity.ProbeInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, `
data_dir: `+dir+`
namespace: work
remote:
  base_url: https://tasks.example.com
  credential: secret
sync:
  interval: 1m
  replay_concurrency: 2
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Namespace != "work" {
		t.Errorf("namespace = %q, want work", cfg.Namespace)
	}
	if cfg.Remote.BaseURL != "https://tasks.example.com" {
		t.Errorf("base_url = %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Credential != "secret" {
		t.Errorf("credential = %q", cfg.Remote.Credential)
	}
	if cfg.Sync.Interval != time.Minute {
		t.Errorf("sync.interval = %v, want 1m", cfg.Sync.Interval)
	}
	if cfg.Sync.ReplayConcurrency != 2 {
		t.Errorf("replay_concurrency = %d, want 2", cfg.Sync.ReplayConcurrency)
	}
	// Unset keys keep their defaults.
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want default 3", cfg.Sync.MaxRetries)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLoad_SearchesDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKSYNC_DATA_DIR", dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load without a file failed: %v", err)
	}
	if cfg.Namespace != "default" {
		t.Errorf("namespace = %q, want default", cfg.Namespace)
	}

	writeFile(t, filepath.Join(dir, FileName), "namespace: found\n")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Namespace != "found" {
		t.Errorf("namespace = %q, want found", cfg.Namespace)
	}
	if cfg.DataDir != dir {
		t.Errorf("data_dir = %q, want %q", cfg.DataDir, dir)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "remote:\n  base_url: http://file\n")

	t.Setenv("TASKSYNC_REMOTE_BASE_URL", "http://env")
	t.Setenv("TASKSYNC_SYNC_INTERVAL", "45s")
	t.Setenv("TASKSYNC_USER", "alice")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.BaseURL != "http://env" {
		t.Errorf("base_url = %q, want env override", cfg.Remote.BaseURL)
	}
	if cfg.Sync.Interval != 45*time.Second {
		t.Errorf("sync.interval = %v, want 45s", cfg.Sync.Interval)
	}
	if cfg.User != "alice" {
		t.Errorf("user = %q, want alice", cfg.User)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "sync:\n  replay_concurrency: 0\n")

	_, err := Load(path)
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty namespace", func(c *Config) { c.Namespace = "" }},
		{"empty base url", func(c *Config) { c.Remote.BaseURL = "" }},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }},
		{"zero retries", func(c *Config) { c.Sync.MaxRetries = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", FileName)

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(content), "replay_concurrency: 4") {
		t.Errorf("expected replay_concurrency in written config:\n%s", content)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("written default should load: %v", err)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("sync.interval = %v, want 30s", cfg.Sync.Interval)
	}
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKSYNC_DATA_DIR", dir)

	if got, want := DefaultPath(), filepath.Join(dir, FileName); got != want {
		t.Errorf("DefaultPath() = %q, want %q", got, want)
	}
}

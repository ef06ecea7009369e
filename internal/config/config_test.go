package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldsync/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend.MaxRetries != 5 {
		t.Fatalf("expected default max_retries, got %d", cfg.Backend.MaxRetries)
	}
	if !cfg.Sync.Auto {
		t.Fatal("expected auto sync enabled by default")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[backend]
base_url = "https://pm.example.com/api/"
max_retries = 2

[sync]
wifi_only = true
schedule = "*/5 * * * *"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend.BaseURL != "https://pm.example.com/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.MaxRetries != 2 {
		t.Fatalf("expected max_retries override, got %d", cfg.Backend.MaxRetries)
	}
	if !cfg.Sync.WifiOnly {
		t.Fatal("expected wifi_only override")
	}
}

func TestLoadRejectsInvalidSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync]\nschedule = \"not-cron\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(path); err == nil || !strings.Contains(err.Error(), "schedule") {
		t.Fatalf("expected schedule validation error, got %v", err)
	}
}

func TestValidateBackoffBounds(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.RetryBackoffMax = 1
	cfg.Backend.RetryBackoff = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected backoff bounds error")
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if _, err := os.Stat(cfg.MediaDir()); err != nil {
		t.Fatalf("expected media dir created: %v", err)
	}
}

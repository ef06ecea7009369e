package testsupport

import (
	"path/filepath"
	"testing"

	"fieldsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.APIBind = "127.0.0.1:0"
	cfg.Backend.BaseURL = "https://backend.test"
	cfg.Backend.RetryBackoff = 1
	cfg.Backend.RetryBackoffMax = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxRetries overrides the transport retry ceiling on the test config.
func WithMaxRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Backend.MaxRetries = n
	}
}

// WithWifiOnly sets the metered-connection policy flag on the test config.
func WithWifiOnly(enabled bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Sync.WifiOnly = enabled
	}
}

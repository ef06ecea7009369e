package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Backend contains configuration for the remote project-management API.
type Backend struct {
	BaseURL         string `toml:"base_url"`
	APIToken        string `toml:"api_token"`
	CreateTimeout   int    `toml:"create_timeout"`
	UploadTimeout   int    `toml:"upload_timeout"`
	MaxRetries      int    `toml:"max_retries"`
	RetryBackoff    int    `toml:"retry_backoff"`
	RetryBackoffMax int    `toml:"retry_backoff_max"`
}

// Transcription contains configuration for the speech-to-text capability.
type Transcription struct {
	Enabled  bool   `toml:"enabled"`
	URL      string `toml:"url"`
	APIKey   string `toml:"api_key"`
	Timeout  int    `toml:"timeout"`
	Language string `toml:"language"`
}

// Sync contains configuration for automatic synchronization triggers.
type Sync struct {
	Auto          bool   `toml:"auto"`
	WifiOnly      bool   `toml:"wifi_only"`
	Schedule      string `toml:"schedule"`
	ProbeInterval int    `toml:"probe_interval"`
	ProbeURL      string `toml:"probe_url"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root fieldsync configuration.
type Config struct {
	Paths         `toml:"paths"`
	Backend       Backend       `toml:"backend"`
	Transcription Transcription `toml:"transcription"`
	Sync          Sync          `toml:"sync"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the standard location of the config file.
func DefaultConfigPath() string {
	return "~/.config/fieldsync/config.toml"
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. The returned config is normalized and validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	resolved, err := ExpandPath(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	if resolved == "" {
		resolved, err = ExpandPath(DefaultConfigPath())
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Missing config is fine; defaults apply.
	default:
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MediaDir returns the durable media root under the data directory.
func (c *Config) MediaDir() string {
	return filepath.Join(c.DataDir, "media")
}

// EnsureDirectories creates the directories fieldsync owns.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.MediaDir(), c.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	resolved, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config already exists at %s", resolved)
	}
	return os.WriteFile(resolved, []byte(sampleConfig), 0o644)
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

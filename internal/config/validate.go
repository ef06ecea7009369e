package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Normalize expands tilde paths and trims whitespace in string fields.
func (c *Config) Normalize() error {
	var err error
	if c.DataDir, err = ExpandPath(c.DataDir); err != nil {
		return err
	}
	if c.LogDir, err = ExpandPath(c.LogDir); err != nil {
		return err
	}
	c.APIBind = strings.TrimSpace(c.APIBind)
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	c.Backend.APIToken = strings.TrimSpace(c.Backend.APIToken)
	c.Transcription.URL = strings.TrimSpace(c.Transcription.URL)
	c.Sync.Schedule = strings.TrimSpace(c.Sync.Schedule)
	c.Sync.ProbeURL = strings.TrimSpace(c.Sync.ProbeURL)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("paths.data_dir must not be empty")
	}
	if c.Backend.BaseURL != "" {
		parsed, err := url.Parse(c.Backend.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("backend.base_url %q is not a valid URL", c.Backend.BaseURL)
		}
	}
	if c.Backend.CreateTimeout <= 0 {
		return errors.New("backend.create_timeout must be positive")
	}
	if c.Backend.UploadTimeout <= 0 {
		return errors.New("backend.upload_timeout must be positive")
	}
	if c.Backend.MaxRetries < 0 {
		return errors.New("backend.max_retries must not be negative")
	}
	if c.Backend.RetryBackoff <= 0 || c.Backend.RetryBackoffMax < c.Backend.RetryBackoff {
		return errors.New("backend retry backoff bounds are invalid")
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("sync.schedule %q is not a valid cron expression: %w", c.Sync.Schedule, err)
		}
	}
	if c.Sync.ProbeInterval <= 0 {
		return errors.New("sync.probe_interval must be positive")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported", c.Logging.Format)
	}
	return nil
}

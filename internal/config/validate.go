package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"storage.request_timeout":       c.Storage.RequestTimeout,
		"storage.upload_timeout":        c.Storage.UploadTimeout,
		"summary.timeout_seconds":       c.Summary.TimeoutSeconds,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateStorage() error {
	if c.Storage.Bucket == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("storage.bucket is required. Set MEETSCRIBE_STORAGE_BUCKET env var or edit %s (create with 'meetscribe config init')", defaultPath)
	}
	if err := validateURL("storage.base_url", c.Storage.BaseURL); err != nil {
		return err
	}
	if c.Storage.ObjectPrefix == c.Storage.StagingPrefix {
		return errors.New("storage.staging_prefix must differ from storage.object_prefix")
	}
	return nil
}

func (c *Config) validateRecording() error {
	if err := ensurePositiveMap(map[string]int{
		"recording.flush_interval":    c.Recording.FlushInterval,
		"recording.metadata_attempts": c.Recording.MetadataAttempts,
		"recording.stale_spool_hours": c.Recording.StaleSpoolHours,
	}); err != nil {
		return err
	}
	if c.Recording.UploadRetries < 0 {
		return errors.New("recording.upload_retries must be zero or positive")
	}
	if c.Recording.UploadRetryDelay < 0 {
		return errors.New("recording.upload_retry_delay must be zero or positive")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if !c.Transcription.Enabled {
		return nil
	}
	if c.Transcription.BaseURL == "" {
		return errors.New("transcription.base_url must be set when transcription.enabled is true (or set MEETSCRIBE_TRANSCRIPTION_URL)")
	}
	if err := validateURL("transcription.base_url", c.Transcription.BaseURL); err != nil {
		return err
	}
	if c.Transcription.TimeoutSeconds <= 0 {
		return errors.New("transcription.timeout_seconds must be positive")
	}
	if c.Transcription.Retries < 0 {
		return errors.New("transcription.retries must be zero or positive")
	}
	if c.Transcription.RetryDelay < 0 {
		return errors.New("transcription.retry_delay must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func validateURL(key, raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", key, raw)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

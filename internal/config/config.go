package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths holds working directories and the ingest listener settings.
type Paths struct {
	SpoolDir    string `toml:"spool_dir"`
	DownloadDir string `toml:"download_dir"`
	LogDir      string `toml:"log_dir"`
	StateDir    string `toml:"state_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Storage contains configuration for the blob store that receives recordings.
type Storage struct {
	BaseURL        string `toml:"base_url"`
	Bucket         string `toml:"bucket"`
	Token          string `toml:"token"`
	ObjectPrefix   string `toml:"object_prefix"`
	StagingPrefix  string `toml:"staging_prefix"`
	RequestTimeout int    `toml:"request_timeout"`
	// UploadTimeout bounds one monolithic upload attempt, in seconds.
	UploadTimeout int `toml:"upload_timeout"`
}

// Recording contains configuration for chunking and upload of live recordings.
type Recording struct {
	FlushInterval    int    `toml:"flush_interval"`
	ContentType      string `toml:"content_type"`
	UploadRetries    int    `toml:"upload_retries"`
	UploadRetryDelay int    `toml:"upload_retry_delay"`
	MetadataAttempts int    `toml:"metadata_attempts"`
	StaleSpoolHours  int    `toml:"stale_spool_hours"`
}

// Transcription contains configuration for the per-chunk transcription service.
type Transcription struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Retries        int    `toml:"retries"`
	RetryDelay     int    `toml:"retry_delay"`
	InlineAudio    bool   `toml:"inline_audio"`
}

// Summary contains configuration for transcript summarization. Summaries are
// generated only when an API key is configured.
type Summary struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Prompt         string `toml:"prompt"`
}

// Notifications configures ntfy pushes for finished and failed recordings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failed         bool   `toml:"failed"`
}

type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config is the full meetscribe configuration as decoded from TOML and
// overridden by MEETSCRIBE_* environment variables in normalize.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Storage       Storage       `toml:"storage"`
	Recording     Recording     `toml:"recording"`
	Transcription Transcription `toml:"transcription"`
	Summary       Summary       `toml:"summary"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath is where config init writes and Load looks first.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the configuration at path, or the first existing default
// location when path is empty, then normalizes and validates it. It returns
// the file it resolved and whether that file existed; a missing file yields
// the defaults.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := locate(strings.TrimSpace(path))
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		raw, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			var decodeErr *toml.DecodeError
			if errors.As(err, &decodeErr) {
				row, col := decodeErr.Position()
				return nil, "", false, fmt.Errorf("parse %s:%d:%d: %w", resolved, row, col, err)
			}
			return nil, "", false, fmt.Errorf("parse %s: %w", resolved, err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// LoadEnvFile applies a dotenv file without overriding variables already in
// the environment. A missing file is only an error when required.
func LoadEnvFile(path string, required bool) error {
	expanded, err := expandPath(strings.TrimSpace(path))
	if err != nil || expanded == "" {
		return err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := godotenv.Load(expanded); err != nil {
		return fmt.Errorf("load env file %s: %w", expanded, err)
	}
	return nil
}

// locate resolves an explicit path as-is; otherwise it tries the user config
// directory and then ./meetscribe.toml.
func locate(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(expanded)
		return expanded, exists, err
	}

	userPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	localPath, err := filepath.Abs("meetscribe.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, localPath} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	}
	return !info.IsDir(), nil
}

// EnsureDirectories creates every configured working directory.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.SpoolDir, c.Paths.DownloadDir, c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "meetscribe.db")
}

func (c *Config) FlushInterval() time.Duration {
	return seconds(c.Recording.FlushInterval)
}

func (c *Config) StorageTimeout() time.Duration {
	return seconds(c.Storage.RequestTimeout)
}

// UploadTimeout bounds a single-request upload of a whole recording.
func (c *Config) UploadTimeout() time.Duration {
	return seconds(c.Storage.UploadTimeout)
}

func (c *Config) TranscriptionTimeout() time.Duration {
	return seconds(c.Transcription.TimeoutSeconds)
}

// StaleSpoolAge is how old an orphaned spool file must be before cleanup.
func (c *Config) StaleSpoolAge() time.Duration {
	return time.Duration(c.Recording.StaleSpoolHours) * time.Hour
}

// SummaryEnabled reports whether a summary API key is configured.
func (c *Config) SummaryEnabled() bool {
	return strings.TrimSpace(c.Summary.APIKey) != ""
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ExpandPath resolves a leading ~ and returns an absolute, cleaned path.
// The empty string is returned unchanged.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	return abs, nil
}

// CreateSample writes the commented sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"meetscribe/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MEETSCRIBE_STORAGE_BUCKET",
		"MEETSCRIBE_STORAGE_TOKEN",
		"MEETSCRIBE_TRANSCRIPTION_URL",
		"MEETSCRIBE_TRANSCRIPTION_API_KEY",
		"MEETSCRIBE_API_TOKEN",
		"OPENAI_API_KEY",
		"NTFY_TOPIC",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())
	t.Setenv("MEETSCRIBE_STORAGE_BUCKET", "meet-bucket")
	t.Setenv("MEETSCRIBE_STORAGE_TOKEN", "storage-token")
	t.Setenv("MEETSCRIBE_TRANSCRIPTION_URL", "http://127.0.0.1:9000/")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantSpool := filepath.Join(tempHome, ".local", "share", "meetscribe", "spool")
	if cfg.Paths.SpoolDir != wantSpool {
		t.Fatalf("unexpected spool dir: got %q want %q", cfg.Paths.SpoolDir, wantSpool)
	}
	if cfg.Storage.Bucket != "meet-bucket" || cfg.Storage.Token != "storage-token" {
		t.Fatalf("expected storage credentials from env, got %+v", cfg.Storage)
	}
	if cfg.Transcription.BaseURL != "http://127.0.0.1:9000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Transcription.BaseURL)
	}
	if cfg.FlushInterval() != 10*time.Second {
		t.Fatalf("unexpected flush interval: %s", cfg.FlushInterval())
	}
	if cfg.Transcription.Retries != 3 || cfg.Transcription.RetryDelay != 3 {
		t.Fatalf("unexpected transcription retry defaults: %+v", cfg.Transcription)
	}
	if cfg.SummaryEnabled() {
		t.Fatal("expected summaries disabled without an API key")
	}
	if cfg.DatabasePath() != filepath.Join(tempHome, ".local", "share", "meetscribe", "meetscribe.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.SpoolDir, cfg.Paths.DownloadDir, cfg.Paths.LogDir, cfg.Paths.StateDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "meetscribe.toml")

	type payload struct {
		Storage struct {
			Bucket       string `toml:"bucket"`
			BaseURL      string `toml:"base_url"`
			ObjectPrefix string `toml:"object_prefix"`
		} `toml:"storage"`
		Transcription struct {
			BaseURL     string `toml:"base_url"`
			InlineAudio bool   `toml:"inline_audio"`
		} `toml:"transcription"`
		Recording struct {
			FlushInterval int `toml:"flush_interval"`
		} `toml:"recording"`
		Paths struct {
			SpoolDir string `toml:"spool_dir"`
		} `toml:"paths"`
	}
	custom := payload{}
	custom.Storage.Bucket = "custom"
	custom.Storage.BaseURL = "http://storage.local/"
	custom.Storage.ObjectPrefix = "/meetings/"
	custom.Transcription.BaseURL = "https://stt.example.com"
	custom.Transcription.InlineAudio = true
	custom.Recording.FlushInterval = 5
	custom.Paths.SpoolDir = filepath.Join(tempDir, "spool")

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Storage.BaseURL != "http://storage.local" {
		t.Fatalf("unexpected base url: %q", cfg.Storage.BaseURL)
	}
	if cfg.Storage.ObjectPrefix != "meetings/" {
		t.Fatalf("unexpected object prefix: %q", cfg.Storage.ObjectPrefix)
	}
	if !cfg.Transcription.InlineAudio {
		t.Fatal("expected inline audio enabled")
	}
	if cfg.FlushInterval() != 5*time.Second {
		t.Fatalf("unexpected flush interval: %s", cfg.FlushInterval())
	}
	if cfg.Paths.SpoolDir != filepath.Join(tempDir, "spool") {
		t.Fatalf("unexpected spool dir: %q", cfg.Paths.SpoolDir)
	}
}

func TestLoadRequiresBucket(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("MEETSCRIBE_TRANSCRIPTION_URL", "http://127.0.0.1:9000")

	_, _, _, err := config.Load("")
	if err == nil || !strings.Contains(err.Error(), "storage.bucket") {
		t.Fatalf("expected storage.bucket error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() config.Config {
		cfg := config.Default()
		cfg.Storage.Bucket = "b"
		cfg.Transcription.BaseURL = "http://127.0.0.1:9000"
		return cfg
	}
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"flush interval", func(c *config.Config) { c.Recording.FlushInterval = 0 }, "recording.flush_interval"},
		{"transcription url", func(c *config.Config) { c.Transcription.BaseURL = "" }, "transcription.base_url"},
		{"transcription scheme", func(c *config.Config) { c.Transcription.BaseURL = "ftp://x" }, "transcription.base_url"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"same prefixes", func(c *config.Config) { c.Storage.StagingPrefix = c.Storage.ObjectPrefix }, "staging_prefix"},
		{"negative retries", func(c *config.Config) { c.Transcription.Retries = -1 }, "transcription.retries"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	cfg := base()
	cfg.Transcription.Enabled = false
	cfg.Transcription.BaseURL = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled transcription to skip url check, got %v", err)
	}
}

func TestLoadEnvFileDoesNotOverrideExisting(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "MEETSCRIBE_STORAGE_BUCKET=from-file\nOPENAI_API_KEY=sk-file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-env")

	if err := config.LoadEnvFile(envPath, true); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("MEETSCRIBE_STORAGE_BUCKET") })
	if got := os.Getenv("MEETSCRIBE_STORAGE_BUCKET"); got != "from-file" {
		t.Fatalf("expected bucket from env file, got %q", got)
	}
	if got := os.Getenv("OPENAI_API_KEY"); got != "sk-env" {
		t.Fatalf("expected existing env to win, got %q", got)
	}

	if err := config.LoadEnvFile(filepath.Join(dir, "missing.env"), false); err != nil {
		t.Fatalf("expected optional missing env file to be ignored, got %v", err)
	}
	if err := config.LoadEnvFile(filepath.Join(dir, "missing.env"), true); err == nil {
		t.Fatal("expected error for required missing env file")
	}
}

func TestCreateSampleLoads(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Storage.Bucket == "" || cfg.Transcription.BaseURL == "" {
		t.Fatalf("expected sample to populate required fields, got %+v", cfg.Storage)
	}
}

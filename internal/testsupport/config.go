package testsupport

import (
	"path/filepath"
	"testing"

	"meetscribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays are zeroed so pipeline tests do not sleep.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SpoolDir = filepath.Join(base, "spool")
	cfgVal.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Storage.BaseURL = "http://127.0.0.1:1"
	cfgVal.Storage.Bucket = "test-bucket"
	cfgVal.Storage.RequestTimeout = 5
	cfgVal.Recording.UploadRetryDelay = 0
	cfgVal.Transcription.BaseURL = "http://127.0.0.1:1"
	cfgVal.Transcription.RetryDelay = 0
	cfgVal.Transcription.TimeoutSeconds = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithBlobServer points the storage section at a fake blob store.
func WithBlobServer(bs *BlobServer) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.BaseURL = bs.URL
		b.cfg.Storage.Bucket = bs.Bucket
	}
}

// WithTranscriptionURL points the transcription section at url.
func WithTranscriptionURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcription.BaseURL = url
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.SpoolDir)
}

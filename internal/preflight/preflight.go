package preflight

import (
	"context"

	"meetscribe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Spool directory", cfg.Paths.SpoolDir),
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
		CheckBlobStore(ctx, cfg),
	}

	if cfg.Transcription.Enabled {
		results = append(results, CheckTranscription(ctx, cfg.Transcription.BaseURL, cfg.Transcription.APIKey))
	}

	if cfg.SummaryEnabled() {
		results = append(results, CheckSummary(ctx, cfg))
	}

	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

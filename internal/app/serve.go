package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"meetscribe/internal/config"
	"meetscribe/internal/ingest"
	"meetscribe/internal/logging"
	"meetscribe/internal/preflight"
	"meetscribe/internal/spool"
)

const shutdownTimeout = 2 * time.Minute

// ServeOptions configures the serve runtime.
type ServeOptions struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
	// Stdout adds stdout to the log outputs.
	Stdout bool
	// OnReady is called with the bound API address once the server listens.
	OnReady func(addr string)
}

// Serve runs the ingest service until ctx ends or the process is signalled.
// Recordings still in flight are finalized before it returns.
func Serve(cmdCtx context.Context, cfg *config.Config, opts ServeOptions) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("meetscribe-%s.log", runID))
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	outputs := []string{logPath}
	if opts.Stdout {
		outputs = append([]string{"stdout"}, outputs...)
	}
	logger, err := logging.New(logging.Options{
		Level:   level,
		Format:  cfg.Logging.Format,
		Outputs: outputs,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	retention := time.Duration(cfg.Logging.RetentionDays) * 24 * time.Hour
	logging.PruneLogs(logger, cfg.Paths.LogDir, "meetscribe-*.log", retention, logPath)
	cleanSpool(signalCtx, cfg, logger)
	reportPreflight(signalCtx, cfg, logger)

	a, err := New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer a.Close()

	srv, err := ingest.New(cfg, a.Manager, a.Store, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(signalCtx); err != nil {
		return err
	}
	if opts.OnReady != nil {
		opts.OnReady(srv.Addr())
	}

	<-signalCtx.Done()
	logger.Info("meetscribe shutting down",
		logging.String(logging.FieldEventType, "shutdown"),
		logging.Int("active_recordings", len(a.Manager.Active())),
	)
	srv.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := a.Manager.Shutdown(shutdownCtx); err != nil {
		logging.ErrorWithContext(logger, "recordings did not finalize cleanly", "shutdown_failed",
			logging.String(logging.FieldErrorHint, "check the download directory for local copies"),
			logging.String(logging.FieldImpact, "some meetings may be marked failed"),
			logging.Error(err),
		)
		return err
	}
	return nil
}

func cleanSpool(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	result := spool.CleanStale(ctx, cfg.Paths.SpoolDir, cfg.StaleSpoolAge(), logger)
	if len(result.Removed) > 0 {
		logger.Info("stale spool files removed",
			logging.String(logging.FieldEventType, "spool_cleaned"),
			logging.Int("removed", len(result.Removed)),
			logging.Int("skipped", len(result.Skipped)),
		)
	}
	for _, failure := range result.Errors {
		logging.WarnWithContext(logger, "stale spool file not removed", "spool_clean_failed",
			logging.String("path", failure.Path),
			logging.String(logging.FieldErrorHint, "check permissions on spool_dir"),
			logging.String(logging.FieldImpact, "disk space is not reclaimed"),
			logging.Error(failure.Error),
		)
	}
}

func reportPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run `meetscribe preflight` for details"),
			logging.String(logging.FieldImpact, "recordings may fall back to local save"),
		)
	}
}

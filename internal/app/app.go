package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meetscribe/internal/blobstore"
	"meetscribe/internal/config"
	"meetscribe/internal/dispatcher"
	"meetscribe/internal/logging"
	"meetscribe/internal/meetings"
	"meetscribe/internal/notifications"
	"meetscribe/internal/recording"
	"meetscribe/internal/retry"
	"meetscribe/internal/summary"
	"meetscribe/internal/transcribe"
)

// App holds the wired pipeline components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      *meetings.Store
	Blobs      *blobstore.Client
	Dispatcher *dispatcher.Dispatcher
	Notifier   notifications.Service
	Manager    *recording.Manager
}

// New opens the meeting store and wires every component from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := meetings.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open meeting store: %w", err)
	}

	blobs := blobstore.NewClient(blobstore.Config{
		BaseURL:        cfg.Storage.BaseURL,
		Bucket:         cfg.Storage.Bucket,
		Token:          cfg.Storage.Token,
		RequestTimeout: cfg.StorageTimeout(),
		UploadTimeout:  cfg.UploadTimeout(),
	})

	dispOpts := dispatcher.Options{
		Stager:         blobs,
		Records:        store,
		Logger:         logger,
		ContentType:    cfg.Recording.ContentType,
		StagingPrefix:  cfg.Storage.StagingPrefix,
		Inline:         cfg.Transcription.InlineAudio,
		Policy:         retry.Fixed(cfg.Transcription.Retries, time.Duration(cfg.Transcription.RetryDelay)*time.Second),
		AttemptTimeout: cfg.TranscriptionTimeout(),
	}
	if cfg.Transcription.Enabled {
		dispOpts.Transcriber = transcribe.NewClient(transcribe.Config{
			BaseURL:  cfg.Transcription.BaseURL,
			APIKey:   cfg.Transcription.APIKey,
			Language: cfg.Transcription.Language,
			Timeout:  cfg.TranscriptionTimeout(),
		})
	}
	if cfg.SummaryEnabled() {
		dispOpts.Summarizer = summary.NewClient(summary.Config{
			APIKey:  cfg.Summary.APIKey,
			BaseURL: cfg.Summary.BaseURL,
			Model:   cfg.Summary.Model,
			Prompt:  cfg.Summary.Prompt,
			Timeout: time.Duration(cfg.Summary.TimeoutSeconds) * time.Second,
		}, nil)
	}
	disp := dispatcher.New(dispOpts)

	notifier := notifications.NewService(cfg)
	mgr, err := recording.NewManager(recording.Options{
		Config:      cfg,
		Storage:     blobs,
		Records:     store,
		Transcripts: disp,
		Notifier:    notifier,
		Logger:      logger,
	})
	if err != nil {
		disp.Close()
		_ = store.Close()
		return nil, err
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Blobs:      blobs,
		Dispatcher: disp,
		Notifier:   notifier,
		Manager:    mgr,
	}, nil
}

// Close stops the dispatcher and closes the meeting store. Active recordings
// should be shut down first.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Close()
	}
	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close meeting store: %w", err))
		}
	}
	return errors.Join(errs...)
}

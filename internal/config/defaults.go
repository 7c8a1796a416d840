package config

const (
	defaultConfigPath             = "~/.config/meetscribe/config.toml"
	defaultSpoolDir               = "~/.local/share/meetscribe/spool"
	defaultDownloadDir            = "~/Downloads/meetscribe"
	defaultLogDir                 = "~/.local/share/meetscribe/logs"
	defaultStateDir               = "~/.local/share/meetscribe"
	defaultAPIBind                = "127.0.0.1:7490"
	defaultStorageBaseURL         = "https://firebasestorage.googleapis.com"
	defaultObjectPrefix           = "recordings/"
	defaultStagingPrefix          = "staging/"
	defaultStorageRequestTimeout  = 60
	defaultStorageUploadTimeout   = 600
	defaultFlushInterval          = 10
	defaultContentType            = "audio/webm"
	defaultUploadRetries          = 3
	defaultUploadRetryDelay       = 2
	defaultMetadataAttempts       = 5
	defaultStaleSpoolHours        = 72
	defaultTranscriptionTimeout   = 300
	defaultTranscriptionRetries   = 3
	defaultTranscriptionDelay     = 3
	defaultSummaryBaseURL         = "https://api.openai.com/v1"
	defaultSummaryModel           = "gpt-4o-mini"
	defaultSummaryTimeout         = 120
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultSummaryPrompt          = "You summarize meeting transcripts. Reply with a short overview paragraph followed by a bullet list of decisions and action items. Do not invent content that is not in the transcript."
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SpoolDir:    defaultSpoolDir,
			DownloadDir: defaultDownloadDir,
			LogDir:      defaultLogDir,
			StateDir:    defaultStateDir,
			APIBind:     defaultAPIBind,
		},
		Storage: Storage{
			BaseURL:        defaultStorageBaseURL,
			ObjectPrefix:   defaultObjectPrefix,
			StagingPrefix:  defaultStagingPrefix,
			RequestTimeout: defaultStorageRequestTimeout,
			UploadTimeout:  defaultStorageUploadTimeout,
		},
		Recording: Recording{
			FlushInterval:    defaultFlushInterval,
			ContentType:      defaultContentType,
			UploadRetries:    defaultUploadRetries,
			UploadRetryDelay: defaultUploadRetryDelay,
			MetadataAttempts: defaultMetadataAttempts,
			StaleSpoolHours:  defaultStaleSpoolHours,
		},
		Transcription: Transcription{
			Enabled:        true,
			TimeoutSeconds: defaultTranscriptionTimeout,
			Retries:        defaultTranscriptionRetries,
			RetryDelay:     defaultTranscriptionDelay,
		},
		Summary: Summary{
			BaseURL:        defaultSummaryBaseURL,
			Model:          defaultSummaryModel,
			TimeoutSeconds: defaultSummaryTimeout,
			Prompt:         defaultSummaryPrompt,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Failed:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

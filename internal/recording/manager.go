package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"meetscribe/internal/blobstore"
	"meetscribe/internal/capture"
	"meetscribe/internal/chunker"
	"meetscribe/internal/config"
	"meetscribe/internal/dispatcher"
	"meetscribe/internal/logging"
	"meetscribe/internal/meetings"
	"meetscribe/internal/notifications"
	"meetscribe/internal/retry"
	"meetscribe/internal/services"
	"meetscribe/internal/spool"
)

// Storage is the blob store surface used by recording sessions.
type Storage interface {
	Start(ctx context.Context, name, contentType string) (*blobstore.Session, error)
	Upload(ctx context.Context, name, contentType string, r io.Reader, size int64) (blobstore.Reference, error)
}

// Records persists the meeting record for each session.
type Records interface {
	Create(ctx context.Context, id, title string) (*meetings.Meeting, error)
	Transition(ctx context.Context, id string, status meetings.Status) error
	SaveRecording(ctx context.Context, id string, info meetings.RecordingInfo) error
	Complete(ctx context.Context, id string, t meetings.Transcript) error
	Fail(ctx context.Context, id string, failure meetings.Failure) error
}

// Transcripts is the transcription dispatcher surface.
type Transcripts interface {
	Enqueue(chunk chunker.Chunk, sessionID string, isLast bool) error
	MarkCompleteOnly(sessionID string) error
	Wait(ctx context.Context, sessionID string) (dispatcher.Result, error)
	Cancel(sessionID string)
	Forget(sessionID string)
}

// Options wires a Manager.
type Options struct {
	Config      *config.Config
	Storage     Storage
	Records     Records
	Transcripts Transcripts
	Notifier    notifications.Service
	Logger      *slog.Logger

	// UploadPolicy overrides the chunk and monolithic upload retry policy.
	UploadPolicy retry.Policy
	// MetadataPolicy overrides the metadata persistence retry policy.
	MetadataPolicy retry.Policy
	// FlushInterval overrides recording.flush_interval.
	FlushInterval time.Duration
	// UploadTimeout overrides storage.upload_timeout for each monolithic
	// upload attempt.
	UploadTimeout time.Duration
}

// StartOptions describes one recording.
type StartOptions struct {
	// ID is generated when empty.
	ID    string
	Title string
	// FileName names the uploaded object; defaults to <id><ext>.
	FileName   string
	Source     capture.Source
	OnProgress func(Progress)
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

// Manager creates and tracks recording sessions.
type Manager struct {
	cfg            *config.Config
	storage        Storage
	records        Records
	transcripts    Transcripts
	notifier       notifications.Service
	logger         *slog.Logger
	uploadPolicy   retry.Policy
	metadataPolicy retry.Policy
	flushInterval  time.Duration
	uploadTimeout  time.Duration
	newTicker      func(time.Duration) ticker

	mu       sync.Mutex
	sessions map[string]*Session
	// starting holds ids whose Start is in progress.
	starting map[string]struct{}
}

// NewManager validates opts and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, services.Wrap(services.ErrConfiguration, "recording", "new manager", "config required", nil)
	}
	if opts.Storage == nil || opts.Records == nil || opts.Transcripts == nil {
		return nil, services.Wrap(services.ErrConfiguration, "recording", "new manager", "storage, records, and transcripts are required", nil)
	}
	cfg := opts.Config
	uploadPolicy := opts.UploadPolicy
	if uploadPolicy.MaxAttempts <= 0 {
		uploadPolicy = retry.Fixed(cfg.Recording.UploadRetries, time.Duration(cfg.Recording.UploadRetryDelay)*time.Second)
	}
	metadataPolicy := opts.MetadataPolicy
	if metadataPolicy.MaxAttempts <= 0 {
		metadataPolicy = retry.Exponential(cfg.Recording.MetadataAttempts, time.Second, 10*time.Second)
	}
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = cfg.FlushInterval()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	uploadTimeout := opts.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = cfg.UploadTimeout()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:            cfg,
		storage:        opts.Storage,
		records:        opts.Records,
		transcripts:    opts.Transcripts,
		notifier:       notifier,
		logger:         logging.NewComponentLogger(logger, "recording"),
		uploadPolicy:   uploadPolicy,
		metadataPolicy: metadataPolicy,
		flushInterval:  interval,
		uploadTimeout:  uploadTimeout,
		newTicker: func(d time.Duration) ticker {
			return timeTicker{time.NewTicker(d)}
		},
		sessions: make(map[string]*Session),
		starting: make(map[string]struct{}),
	}, nil
}

// Start creates the meeting record, opens the spool and the resumable upload
// session, and begins capturing. A resumable session that cannot be opened is
// not fatal: the recording continues and is uploaded in one piece at stop.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	if opts.Source == nil {
		return nil, services.Wrap(services.ErrValidation, "recording", "start", "capture source required", nil)
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if !m.reserve(id) {
		return nil, services.Wrap(services.ErrValidation, "recording", "start", fmt.Sprintf("session %s already active", id), nil)
	}
	registered := false
	defer func() {
		if !registered {
			m.mu.Lock()
			delete(m.starting, id)
			m.mu.Unlock()
		}
	}()

	contentType := strings.TrimSpace(m.cfg.Recording.ContentType)
	if contentType == "" {
		contentType = "audio/webm"
	}
	fileName := sanitizeFileName(opts.FileName)
	switch {
	case fileName == "":
		fileName = id + extensionFor(contentType)
	case filepath.Ext(fileName) == "":
		fileName = id + "-" + fileName + extensionFor(contentType)
	default:
		fileName = id + "-" + fileName
	}
	title := strings.TrimSpace(opts.Title)

	if _, err := m.records.Create(ctx, id, title); err != nil {
		return nil, fmt.Errorf("create meeting record: %w", err)
	}
	sp, err := spool.Open(m.cfg.Paths.SpoolDir, id)
	if err != nil {
		_ = m.records.Fail(ctx, id, meetings.Failure{Message: err.Error(), Kind: "spool"})
		return nil, fmt.Errorf("open spool: %w", err)
	}

	sessCtx := services.WithSessionID(context.Background(), id)
	s := &Session{
		id:          id,
		title:       title,
		fileName:    fileName,
		objectName:  m.cfg.Storage.ObjectPrefix + fileName,
		contentType: contentType,
		m:           m,
		logger:      logging.WithContext(sessCtx, m.logger),
		baseCtx:     sessCtx,
		acc:         chunker.New(),
		spool:       sp,
		onProgress:  opts.OnProgress,
		captureDone: make(chan struct{}),
		stopTick:    make(chan struct{}),
		driverDone:  make(chan struct{}),
		done:        make(chan struct{}),
	}

	upload, err := m.storage.Start(ctx, s.objectName, contentType)
	if err != nil {
		logging.WarnWithContext(s.logger, "resumable upload unavailable, recording will upload at stop", "upload_session_init_failed",
			logging.String(logging.FieldErrorHint, "check storage bucket, token, and connectivity"),
			logging.String(logging.FieldImpact, "upload happens in one request after the meeting ends"),
			logging.String("error_kind", services.ErrorKind(err)),
			logging.Error(err),
		)
		upload = nil
	}
	s.upload = upload

	if err := m.records.Transition(ctx, id, meetings.StatusRecording); err != nil {
		_ = sp.Remove()
		_ = m.records.Fail(ctx, id, meetings.Failure{Message: err.Error(), Kind: services.ErrorKind(err)})
		return nil, fmt.Errorf("mark meeting recording: %w", err)
	}

	m.mu.Lock()
	delete(m.starting, id)
	m.sessions[id] = s
	m.mu.Unlock()
	registered = true

	s.begin(opts.Source)
	s.logger.Info("recording started",
		logging.String("object", s.objectName),
		logging.Bool("resumable", upload != nil),
		logging.Duration("flush_interval", m.flushInterval),
	)
	return s, nil
}

// Record runs a session until its source ends or ctx is cancelled, then stops
// it. Stopping is not bound to ctx so a cancelled recording still finalizes.
func (m *Manager) Record(ctx context.Context, opts StartOptions) (Result, error) {
	s, err := m.Start(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-s.CaptureDone():
	case <-ctx.Done():
	}
	if err := s.CaptureErr(); err != nil && !errors.Is(err, context.Canceled) {
		logging.WarnWithContext(s.logger, "capture ended with error, finalizing what was received", "capture_failed",
			logging.String(logging.FieldErrorHint, "check the capture source"),
			logging.String(logging.FieldImpact, "recording may be truncated"),
			logging.Error(err),
		)
	}
	return s.Stop(context.WithoutCancel(ctx))
}

// Get returns an active session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Stop stops the active session id.
func (m *Manager) Stop(ctx context.Context, id string) (Result, error) {
	s, ok := m.Get(id)
	if !ok {
		return Result{}, services.Wrap(services.ErrNotFound, "recording", "stop", fmt.Sprintf("session %s not active", id), nil)
	}
	return s.Stop(ctx)
}

// Active lists the ids of sessions that have not reached a terminal state.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Shutdown stops every active session and waits for sessions already
// finalizing elsewhere to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, id := range m.Active() {
		s, ok := m.Get(id)
		if !ok {
			continue
		}
		if s.State() == StateActive {
			if _, err := s.Stop(ctx); err != nil && !errors.Is(err, ErrInvalidTransition) {
				errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
			}
			continue
		}
		select {
		case <-s.Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait %s: %w", id, ctx.Err()))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) reserve(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, active := m.sessions[id]; active {
		return false
	}
	if _, pending := m.starting[id]; pending {
		return false
	}
	m.starting[id] = struct{}{}
	return true
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.doneOnce.Do(func() { close(s.done) })
	}
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.TrimSpace(name)))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r < 0x20:
			return '_'
		case r == ' ':
			return '-'
		default:
			return r
		}
	}, name)
}

func extensionFor(contentType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch mediaType {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	case "audio/flac":
		return ".flac"
	default:
		return ".bin"
	}
}

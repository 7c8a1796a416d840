package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"meetscribe/internal/capture"
	"meetscribe/internal/config"
	"meetscribe/internal/logging"
	"meetscribe/internal/meetings"
	"meetscribe/internal/recording"
	"meetscribe/internal/services"
)

const frameWriteTimeout = 10 * time.Second

// Recorder runs one recording session to completion.
type Recorder interface {
	Record(ctx context.Context, opts recording.StartOptions) (recording.Result, error)
	Active() []string
}

// MeetingReader is the read side of the meeting store.
type MeetingReader interface {
	Get(ctx context.Context, id string) (*meetings.Meeting, error)
	List(ctx context.Context, statuses ...meetings.Status) ([]*meetings.Meeting, error)
}

// Server is the recorder-facing HTTP API.
type Server struct {
	bind     string
	logger   *slog.Logger
	recorder Recorder
	meetings MeetingReader
	upgrader websocket.Upgrader
	handler  http.Handler

	mu       sync.Mutex
	baseCtx  context.Context
	listener net.Listener
	server   *http.Server
}

// New builds a Server bound to cfg.Paths.APIBind.
func New(cfg *config.Config, recorder Recorder, reader MeetingReader, logger *slog.Logger) (*Server, error) {
	if cfg == nil || recorder == nil || reader == nil {
		return nil, services.Wrap(services.ErrConfiguration, "ingest", "init", "config, recorder, and meeting reader are required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:     cfg.Paths.APIBind,
		logger:   logging.NewComponentLogger(logger, "ingest"),
		recorder: recorder,
		meetings: reader,
		baseCtx:  context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			// The recorder page is served from file:// or an extension origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	token := cfg.Paths.APIToken
	mux.HandleFunc("/api/health", authMiddleware(token, s.handleHealth))
	mux.HandleFunc("/api/record", authMiddleware(token, s.handleRecord))
	mux.HandleFunc("/api/meetings", authMiddleware(token, s.handleMeetings))
	mux.HandleFunc("/api/meetings/{id}", authMiddleware(token, s.handleMeeting))
	s.handler = mux
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address. Recordings started through the
// server are finalized when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.baseCtx = ctx
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down. Hijacked websocket connections are left to
// their recordings, which finalize when the Start context ends.
func (s *Server) Stop() {
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"recordings": s.recorder.Active(),
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	opts := recording.StartOptions{
		ID:       strings.TrimSpace(query.Get("id")),
		Title:    strings.TrimSpace(query.Get("title")),
		FileName: strings.TrimSpace(query.Get("name")),
	}
	if opts.FileName == "" {
		opts.FileName = strings.TrimSpace(query.Get("fileName"))
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("websocket upgrade failed",
			logging.String(logging.FieldEventType, "upgrade_failed"),
			logging.String(logging.FieldErrorHint, "connect with a websocket client"),
			logging.Error(err),
		)
		return
	}
	defer conn.Close()

	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	out := &frameWriter{conn: conn}
	opts.Source = &capture.WebSocketSource{Conn: conn}
	opts.OnProgress = func(p recording.Progress) {
		_ = out.write(progressFrame(opts.ID, p))
	}
	_ = out.write(Frame{Type: FrameStarted, SessionID: opts.ID})

	result, err := s.recorder.Record(s.context(), opts)
	if result.SessionID == "" {
		result.SessionID = opts.ID
	}
	frame := resultFrame(result, err)
	if err != nil {
		logging.WarnWithContext(s.logger, "recording over websocket failed", "recording_failed",
			logging.String(logging.FieldSessionID, result.SessionID),
			logging.String(logging.FieldErrorHint, "inspect the meeting record for the failure kind"),
			logging.Error(err),
		)
	}
	if werr := out.write(frame); werr != nil {
		s.logger.Debug("result frame not delivered", logging.Error(werr))
		return
	}
	_ = out.close()
}

func resultFrame(result recording.Result, err error) Frame {
	frame := Frame{
		Type:             FrameResult,
		SessionID:        result.SessionID,
		Status:           string(meetings.StatusCompleted),
		DownloadURL:      result.Reference.URL,
		Size:             result.Size,
		TranscriptStatus: result.Transcript.Status,
		Summary:          result.Transcript.Summary,
		Gaps:             result.Gaps,
	}
	if err != nil {
		frame.Status = string(meetings.StatusFailed)
		frame.Error = err.Error()
		var fallback *services.FallbackUploadError
		if errors.As(err, &fallback) {
			frame.LocalPath = fallback.LocalPath
			frame.Size = fallback.Size
		}
	}
	return frame
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []meetings.Status
	for _, raw := range r.URL.Query()["status"] {
		for part := range strings.SplitSeq(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, meetings.Status(part))
			}
		}
	}
	list, err := s.meetings.List(r.Context(), statuses...)
	if err != nil {
		s.logger.Error("list meetings failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list meetings")
		return
	}
	resp := MeetingListResponse{Meetings: make([]MeetingResponse, 0, len(list))}
	for _, m := range list {
		resp.Meetings = append(resp.Meetings, NewMeetingResponse(m))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMeeting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "meeting id required")
		return
	}
	m, err := s.meetings.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("get meeting failed", logging.String(logging.FieldSessionID, id), logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load meeting")
		return
	}
	if m == nil {
		s.writeError(w, http.StatusNotFound, "meeting not found")
		return
	}
	s.writeJSON(w, http.StatusOK, NewMeetingResponse(m))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("api response encode failed",
			logging.String(logging.FieldEventType, "api_encode_failed"),
			logging.String(logging.FieldErrorHint, "client may have disconnected"),
			logging.Error(err),
		)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// frameWriter serializes writes to a websocket connection.
type frameWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (f *frameWriter) write(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return websocket.ErrCloseSent
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	return f.conn.WriteJSON(frame)
}

func (f *frameWriter) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	return f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(frameWriteTimeout))
}

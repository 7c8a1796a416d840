package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"meetscribe/internal/blobstore"
	"meetscribe/internal/meetings"
	"meetscribe/internal/recording"
	"meetscribe/internal/services"
	"meetscribe/internal/testsupport"
)

type fakeRecorder struct {
	mu       sync.Mutex
	received []byte
	opts     recording.StartOptions
	err      error
}

func (f *fakeRecorder) Record(ctx context.Context, opts recording.StartOptions) (recording.Result, error) {
	var buf bytes.Buffer
	runErr := opts.Source.Run(ctx, func(p []byte) { buf.Write(p) })

	f.mu.Lock()
	f.received = buf.Bytes()
	f.opts = opts
	err := f.err
	f.mu.Unlock()

	if runErr != nil {
		return recording.Result{}, runErr
	}
	if opts.OnProgress != nil {
		opts.OnProgress(recording.Progress{Offset: int64(buf.Len()), Expected: int64(buf.Len()), Chunks: 1})
	}
	if err != nil {
		return recording.Result{SessionID: opts.ID}, err
	}
	return recording.Result{
		SessionID:  opts.ID,
		Size:       int64(buf.Len()),
		Reference:  blobstore.Reference{URL: "https://blob.test/o/" + opts.ID + "?alt=media&token=t"},
		Transcript: meetings.Transcript{Status: meetings.TranscriptCompleted, Summary: "short"},
	}, nil
}

func (f *fakeRecorder) Active() []string { return []string{"rec-1"} }

func (f *fakeRecorder) snapshot() ([]byte, recording.StartOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.received...), f.opts
}

func newTestServer(t *testing.T, token string, rec *fakeRecorder) (*Server, *meetings.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	store := testsupport.MustOpenStore(t, cfg)
	srv, err := New(cfg, rec, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, store
}

func TestAuthMiddleware(t *testing.T) {
	handler := authMiddleware("secret", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{name: "missing", target: "/api/health", want: http.StatusUnauthorized},
		{name: "bearer", target: "/api/health", header: "Bearer secret", want: http.StatusNoContent},
		{name: "wrong bearer", target: "/api/health", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "query", target: "/api/health?token=secret", want: http.StatusNoContent},
		{name: "wrong query", target: "/api/health?token=nope", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			handler(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestAuthMiddlewareDisabledWithoutToken(t *testing.T) {
	called := false
	handler := authMiddleware("", func(http.ResponseWriter, *http.Request) { called = true })
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("expected handler to run without a token configured")
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, "", &fakeRecorder{})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Status     string   `json:"status"`
		Recordings []string `json:"recordings"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || len(resp.Recordings) != 1 || resp.Recordings[0] != "rec-1" {
		t.Fatalf("unexpected health response %+v", resp)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d, want 405", w.Code)
	}
}

func TestHandleMeetings(t *testing.T) {
	srv, store := newTestServer(t, "", &fakeRecorder{})
	ctx := context.Background()
	if _, err := store.Create(ctx, "m-1", "Standup"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "m-2", "Retro"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Fail(ctx, "m-2", meetings.Failure{Message: "boom", Kind: "fallback_upload", LocalPath: "/tmp/m-2.webm"}); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/meetings", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list MeetingListResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Meetings) != 2 {
		t.Fatalf("expected 2 meetings, got %d", len(list.Meetings))
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/meetings?status=failed", nil))
	list = MeetingListResponse{}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode filtered list: %v", err)
	}
	if len(list.Meetings) != 1 || list.Meetings[0].ID != "m-2" {
		t.Fatalf("unexpected filtered list %+v", list.Meetings)
	}
	if list.Meetings[0].LocalPath != "/tmp/m-2.webm" || list.Meetings[0].Error != "boom" {
		t.Fatalf("failure fields not exposed: %+v", list.Meetings[0])
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/meetings/m-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var one MeetingResponse
	if err := json.NewDecoder(w.Body).Decode(&one); err != nil {
		t.Fatalf("decode meeting: %v", err)
	}
	if one.ID != "m-1" || one.Title != "Standup" {
		t.Fatalf("unexpected meeting %+v", one)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/meetings/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", w.Code)
	}
}

func TestMeetingsRequireToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret", &fakeRecorder{})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/meetings", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func dialRecord(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/record" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrames(t *testing.T, conn *websocket.Conn) []Frame {
	t.Helper()
	var frames []Frame
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame after %d frames: %v", len(frames), err)
		}
		frames = append(frames, frame)
		if frame.Type == FrameResult {
			return frames
		}
	}
}

func TestHandleRecordStreamsFrames(t *testing.T) {
	rec := &fakeRecorder{}
	srv, _ := newTestServer(t, "secret", rec)
	conn := dialRecord(t, srv, "?token=secret&id=rec-9&title=Planning&name=planning.webm")

	for _, part := range [][]byte{bytes.Repeat([]byte{1}, 300), bytes.Repeat([]byte{2}, 200)} {
		if err := conn.WriteMessage(websocket.BinaryMessage, part); err != nil {
			t.Fatalf("write media: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("stop")); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	frames := readFrames(t, conn)
	if frames[0].Type != FrameStarted || frames[0].SessionID != "rec-9" {
		t.Fatalf("first frame = %+v, want started for rec-9", frames[0])
	}
	sawProgress := false
	for _, f := range frames {
		if f.Type == FrameProgress && f.Offset == 500 {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Fatalf("expected a progress frame at offset 500, got %+v", frames)
	}
	result := frames[len(frames)-1]
	if result.Status != "completed" || result.Size != 500 || !strings.Contains(result.DownloadURL, "rec-9") {
		t.Fatalf("unexpected result frame %+v", result)
	}
	if result.TranscriptStatus != meetings.TranscriptCompleted || result.Summary != "short" {
		t.Fatalf("transcript fields missing from result %+v", result)
	}

	received, opts := rec.snapshot()
	if len(received) != 500 {
		t.Fatalf("recorder received %d bytes, want 500", len(received))
	}
	if opts.ID != "rec-9" || opts.Title != "Planning" || opts.FileName != "planning.webm" {
		t.Fatalf("start options = %+v", opts)
	}
}

func TestHandleRecordAcceptsFileNameAlias(t *testing.T) {
	rec := &fakeRecorder{}
	srv, _ := newTestServer(t, "", rec)
	conn := dialRecord(t, srv, "?fileName=retro.webm")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("stop")); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	readFrames(t, conn)
	if _, opts := rec.snapshot(); opts.FileName != "retro.webm" {
		t.Fatalf("file name = %q, want retro.webm", opts.FileName)
	}
}

func TestHandleRecordReportsLocalFallback(t *testing.T) {
	rec := &fakeRecorder{err: &services.FallbackUploadError{
		Name:      "rec.webm",
		Size:      42,
		LocalPath: "/downloads/rec.webm",
		Err:       errors.New("http 500"),
	}}
	srv, _ := newTestServer(t, "", rec)
	conn := dialRecord(t, srv, "")

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("data")); err != nil {
		t.Fatalf("write media: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	frames := readFrames(t, conn)
	result := frames[len(frames)-1]
	if result.Status != "failed" || result.LocalPath != "/downloads/rec.webm" || result.Size != 42 {
		t.Fatalf("unexpected failure frame %+v", result)
	}
	if frames[0].SessionID == "" || result.SessionID != frames[0].SessionID {
		t.Fatalf("generated session id not carried through: %+v / %+v", frames[0], result)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(nil, &fakeRecorder{}, nil, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"meetscribe/internal/blobstore"
	"meetscribe/internal/config"
	"meetscribe/internal/dispatcher"
	"meetscribe/internal/meetings"
	"meetscribe/internal/notifications"
	"meetscribe/internal/retry"
	"meetscribe/internal/testsupport"
	"meetscribe/internal/transcribe"
)

type manualTicker struct{ ch chan time.Time }

func (m manualTicker) C() <-chan time.Time { return m.ch }
func (m manualTicker) Stop()               {}

// manualSource hands its emit function to the test so fragments are appended
// synchronously from the test goroutine.
type manualSource struct{ emit chan func([]byte) }

func newManualSource() *manualSource {
	return &manualSource{emit: make(chan func([]byte), 1)}
}

func (m *manualSource) Run(ctx context.Context, emit func([]byte)) error {
	m.emit <- emit
	<-ctx.Done()
	return nil
}

type recordedEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{event: event, payload: payload})
	return nil
}

func (f *fakeNotifier) snapshot() []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedEvent(nil), f.events...)
}

type harness struct {
	cfg      *config.Config
	blobs    *testsupport.BlobServer
	store    *meetings.Store
	notifier *fakeNotifier
	mgr      *Manager
	ticks    chan time.Time
}

type harnessOptions struct {
	inline bool
	// holdTranscripts, when set, blocks every transcription request until
	// it is closed.
	holdTranscripts chan struct{}
	uploadTimeout   time.Duration
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	blobs := testsupport.NewBlobServer(t)
	transcriber := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChunkIndex int `json:"chunkIndex"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if opts.holdTranscripts != nil {
			select {
			case <-opts.holdTranscripts:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":            fmt.Sprintf("part%d ", req.ChunkIndex),
			"durationSeconds": 1.0,
		})
	}))
	t.Cleanup(transcriber.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithBlobServer(blobs), testsupport.WithTranscriptionURL(transcriber.URL))
	store := testsupport.MustOpenStore(t, cfg)
	blobClient := blobstore.NewClient(blobstore.Config{
		BaseURL:        cfg.Storage.BaseURL,
		Bucket:         cfg.Storage.Bucket,
		RequestTimeout: cfg.StorageTimeout(),
	})
	disp := dispatcher.New(dispatcher.Options{
		Transcriber:   transcribe.NewClient(transcribe.Config{BaseURL: cfg.Transcription.BaseURL, Timeout: cfg.TranscriptionTimeout()}),
		Stager:        blobClient,
		Records:       store,
		ContentType:   cfg.Recording.ContentType,
		StagingPrefix: cfg.Storage.StagingPrefix,
		Inline:        opts.inline,
		Policy:        retry.Fixed(3, 0),
	})
	t.Cleanup(disp.Close)

	notifier := &fakeNotifier{}
	mgr, err := NewManager(Options{
		Config:         cfg,
		Storage:        blobClient,
		Records:        store,
		Transcripts:    disp,
		Notifier:       notifier,
		MetadataPolicy: retry.Fixed(2, 0),
		UploadTimeout:  opts.uploadTimeout,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ticks := make(chan time.Time)
	mgr.newTicker = func(time.Duration) ticker { return manualTicker{ch: ticks} }
	return &harness{cfg: cfg, blobs: blobs, store: store, notifier: notifier, mgr: mgr, ticks: ticks}
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	select {
	case h.ticks <- time.Now():
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not accept tick")
	}
}

func (h *harness) meeting(t *testing.T, id string) *meetings.Meeting {
	t.Helper()
	m, err := h.store.Get(context.Background(), id)
	if err != nil || m == nil {
		t.Fatalf("get meeting %s: %v (found=%v)", id, err, m != nil)
	}
	return m
}

func (h *harness) spoolFiles(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.cfg.Paths.SpoolDir, "*.spool"))
	if err != nil {
		t.Fatalf("glob spool: %v", err)
	}
	return matches
}

func progressRecorder() (chan Progress, func(Progress)) {
	ch := make(chan Progress, 32)
	return ch, func(p Progress) {
		select {
		case ch <- p:
		default:
		}
	}
}

func waitProgress(t *testing.T, ch <-chan Progress) Progress {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for progress")
		return Progress{}
	}
}

func payload(size int, fill byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = fill
	}
	return data
}

func sessionRequests(requests []testsupport.ChunkRequest) map[string][]testsupport.ChunkRequest {
	out := make(map[string][]testsupport.ChunkRequest)
	for _, req := range requests {
		out[req.Session] = append(out[req.Session], req)
	}
	return out
}

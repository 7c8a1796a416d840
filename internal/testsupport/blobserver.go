package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// ChunkRequest records one request against a resumable upload session.
type ChunkRequest struct {
	Session string
	Command string
	Offset  int64
	Size    int
	Status  int
}

type uploadSession struct {
	name        string
	contentType string
	data        []byte
	final       bool
}

type storedObject struct {
	data        []byte
	contentType string
	token       string
}

// BlobServer is an in-memory stand-in for the Firebase-storage style blob
// store. Faults are injected per request class.
type BlobServer struct {
	*httptest.Server

	Bucket string

	mu            sync.Mutex
	token         string
	nextID        int
	sessions      map[string]*uploadSession
	objects       map[string]*storedObject
	chunks        []ChunkRequest
	starts        int
	rawUploads    int
	deleted       []string
	startStatus   int
	rawStatus     int
	chunkFailures []int
	chunkDelay    time.Duration
	rawDelay      time.Duration
	hideMetadata  bool
}

// NewBlobServer starts a fake blob store and registers its shutdown.
func NewBlobServer(t testing.TB) *BlobServer {
	t.Helper()
	bs := &BlobServer{
		Bucket:   "test-bucket",
		sessions: make(map[string]*uploadSession),
		objects:  make(map[string]*storedObject),
	}
	bs.Server = httptest.NewServer(http.HandlerFunc(bs.handle))
	t.Cleanup(bs.Close)
	return bs
}

// RequireToken rejects requests that do not carry token as a bearer credential.
// Download URLs authenticate with their own download token instead.
func (b *BlobServer) RequireToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

// FailStart makes every session start return status.
func (b *BlobServer) FailStart(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startStatus = status
}

// FailRawUploads makes every monolithic upload return status.
func (b *BlobServer) FailRawUploads(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rawStatus = status
}

// QueueChunkFailures makes the next chunk requests return the given statuses
// in order without accepting their bytes.
func (b *BlobServer) QueueChunkFailures(statuses ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunkFailures = append(b.chunkFailures, statuses...)
}

// DelayChunks delays every chunk response.
func (b *BlobServer) DelayChunks(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunkDelay = d
}

// StallRawUploads holds every monolithic upload for d before answering, or
// until the client gives up.
func (b *BlobServer) StallRawUploads(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rawDelay = d
}

// HideMetadata makes metadata lookups return 404.
func (b *BlobServer) HideMetadata(hide bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hideMetadata = hide
}

// Object returns the stored bytes for name.
func (b *BlobServer) Object(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Objects returns the names of all stored objects.
func (b *BlobServer) Objects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.objects))
	for name := range b.objects {
		names = append(names, name)
	}
	return names
}

// ChunkRequests returns every chunk request observed so far.
func (b *BlobServer) ChunkRequests() []ChunkRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ChunkRequest(nil), b.chunks...)
}

// Starts returns the number of session start requests.
func (b *BlobServer) Starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

// RawUploads returns the number of monolithic upload requests.
func (b *BlobServer) RawUploads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rawUploads
}

// Deleted returns the names of deleted objects.
func (b *BlobServer) Deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

func (b *BlobServer) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	token := b.token
	b.mu.Unlock()
	if token != "" && r.URL.Query().Get("alt") != "media" && r.Header.Get("Authorization") != "Bearer "+token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	bucketPrefix := "/v0/b/" + b.Bucket + "/o"
	switch {
	case strings.HasPrefix(r.URL.Path, "/upload/"):
		b.handleChunk(w, r, strings.TrimPrefix(r.URL.Path, "/upload/"))
	case r.URL.Path == bucketPrefix && r.Method == http.MethodPost:
		b.handleCreate(w, r)
	case r.URL.Path == bucketPrefix && r.Method == http.MethodGet:
		writeJSON(w, map[string]any{"items": []any{}})
	case strings.HasPrefix(r.URL.Path, bucketPrefix+"/"):
		name := strings.TrimPrefix(r.URL.Path, bucketPrefix+"/")
		switch r.Method {
		case http.MethodGet:
			b.handleGet(w, r, name)
		case http.MethodDelete:
			b.handleDelete(w, name)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}

func (b *BlobServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	body, _ := io.ReadAll(r.Body)

	raw := r.Header.Get("X-Goog-Upload-Protocol") == "raw"
	b.mu.Lock()
	delay := b.rawDelay
	if raw {
		b.rawUploads++
	}
	b.mu.Unlock()
	if raw && delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.Header.Get("X-Goog-Upload-Protocol") {
	case "resumable":
		b.starts++
		if b.startStatus != 0 {
			http.Error(w, "start rejected", b.startStatus)
			return
		}
		b.nextID++
		id := fmt.Sprintf("s%d", b.nextID)
		b.sessions[id] = &uploadSession{name: name, contentType: r.Header.Get("X-Goog-Upload-Header-Content-Type")}
		w.Header().Set("X-Goog-Upload-URL", b.URL+"/upload/"+id)
		w.Header().Set("X-Goog-Upload-Status", "active")
		w.WriteHeader(http.StatusOK)
	case "raw":
		if b.rawStatus != 0 {
			http.Error(w, "upload rejected", b.rawStatus)
			return
		}
		b.storeLocked(name, body, r.Header.Get("Content-Type"))
		writeJSON(w, b.metadataLocked(name))
	default:
		http.Error(w, "unsupported protocol", http.StatusBadRequest)
	}
}

func (b *BlobServer) handleChunk(w http.ResponseWriter, r *http.Request, id string) {
	body, _ := io.ReadAll(r.Body)
	command := r.Header.Get("X-Goog-Upload-Command")
	offset, _ := strconv.ParseInt(r.Header.Get("X-Goog-Upload-Offset"), 10, 64)

	b.mu.Lock()
	delay := b.chunkDelay
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	record := ChunkRequest{Session: id, Command: command, Offset: offset, Size: len(body)}
	sess, ok := b.sessions[id]
	switch {
	case !ok:
		record.Status = http.StatusNotFound
	case len(b.chunkFailures) > 0:
		record.Status = b.chunkFailures[0]
		b.chunkFailures = b.chunkFailures[1:]
	case sess.final:
		record.Status = http.StatusBadRequest
	case offset != int64(len(sess.data)):
		record.Status = http.StatusBadRequest
	default:
		record.Status = http.StatusOK
	}
	b.chunks = append(b.chunks, record)
	if record.Status != http.StatusOK {
		http.Error(w, "chunk rejected", record.Status)
		return
	}

	sess.data = append(sess.data, body...)
	w.Header().Set("X-Goog-Upload-Size-Received", strconv.Itoa(len(sess.data)))
	if strings.Contains(command, "finalize") {
		sess.final = true
		b.storeLocked(sess.name, sess.data, sess.contentType)
		w.Header().Set("X-Goog-Upload-Status", "final")
		writeJSON(w, b.metadataLocked(sess.name))
		return
	}
	w.Header().Set("X-Goog-Upload-Status", "active")
	w.WriteHeader(http.StatusOK)
}

func (b *BlobServer) handleGet(w http.ResponseWriter, r *http.Request, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[name]
	if !ok || (b.hideMetadata && r.URL.Query().Get("alt") != "media") {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("alt") == "media" {
		if r.URL.Query().Get("token") != obj.token {
			http.Error(w, "bad token", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		_, _ = w.Write(obj.data)
		return
	}
	writeJSON(w, b.metadataLocked(name))
}

func (b *BlobServer) handleDelete(w http.ResponseWriter, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	delete(b.objects, name)
	b.deleted = append(b.deleted, name)
	w.WriteHeader(http.StatusNoContent)
}

func (b *BlobServer) storeLocked(name string, data []byte, contentType string) {
	b.objects[name] = &storedObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		token:       fmt.Sprintf("tok-%d", len(b.objects)+1),
	}
}

func (b *BlobServer) metadataLocked(name string) map[string]any {
	obj := b.objects[name]
	return map[string]any{
		"name":           name,
		"bucket":         b.Bucket,
		"size":           strconv.Itoa(len(obj.data)),
		"contentType":    obj.contentType,
		"downloadTokens": obj.token,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"meetscribe/internal/chunker"
	"meetscribe/internal/retry"
	"meetscribe/internal/services"
)

// Outcome is the store's verdict on an accepted chunk.
type Outcome int

const (
	// OutcomeContinue means the chunk was accepted and the session stays open.
	OutcomeContinue Outcome = iota + 1
	// OutcomeFinalized means the store committed the object.
	OutcomeFinalized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

var (
	// ErrUploadInFlight is returned when a second request is attempted on a
	// session before the previous response was observed.
	ErrUploadInFlight = errors.New("upload already in flight for session")
	// ErrSessionFinalized is returned for chunk uploads after finalization.
	ErrSessionFinalized = errors.New("upload session already finalized")
	// ErrNotFinalized is returned by Finalize before the store committed the object.
	ErrNotFinalized = errors.New("upload session not finalized")
)

// Handle is a snapshot of the session's protocol state.
type Handle struct {
	URL      string
	Offset   int64
	Uploaded int64
}

// Session is one resumable upload. Its offset only moves forward, by exactly
// the length of each accepted chunk.
type Session struct {
	client      *Client
	name        string
	contentType string
	url         string

	inFlight atomic.Bool

	mu        sync.Mutex
	offset    int64
	uploaded  int64
	finalized bool
	ref       *Reference

	finalizeMu sync.Mutex
}

// Name returns the destination object name.
func (s *Session) Name() string { return s.name }

// Offset returns the number of bytes the store has accepted.
func (s *Session) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Finalized reports whether the store committed the object.
func (s *Session) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Handle returns the current protocol state.
func (s *Session) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Handle{URL: s.url, Offset: s.offset, Uploaded: s.uploaded}
}

// UploadChunk sends chunk at the current offset. isLast asks the store to
// finalize the object with this request; an empty chunk with isLast set is a
// finalize-only call. Rejected requests return *services.ChunkUploadError and
// leave the offset unchanged so the same chunk can be retried.
func (s *Session) UploadChunk(ctx context.Context, chunk chunker.Chunk, isLast bool) (Outcome, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return 0, ErrUploadInFlight
	}
	defer s.inFlight.Store(false)

	s.mu.Lock()
	offset := s.offset
	finalized := s.finalized
	s.mu.Unlock()
	if finalized {
		return 0, ErrSessionFinalized
	}

	outcome, status, err := s.send(ctx, chunk.Data, offset, isLast)
	if err != nil {
		return 0, &services.ChunkUploadError{Index: chunk.Index, Offset: offset, Status: status, Err: err}
	}

	s.mu.Lock()
	s.offset += int64(chunk.Len())
	s.uploaded += int64(chunk.Len())
	if outcome == OutcomeFinalized {
		s.finalized = true
	}
	s.mu.Unlock()
	return outcome, nil
}

func (s *Session) send(ctx context.Context, data []byte, offset int64, isLast bool) (Outcome, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.client.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	command := "upload"
	if isLast {
		command = "upload, finalize"
	}
	req.ContentLength = int64(len(data))
	req.Header.Set(headerCommand, command)
	req.Header.Set(headerOffset, strconv.FormatInt(offset, 10))
	s.client.authorize(req)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, resp.StatusCode, retry.NewStatusError("upload chunk", resp, body)
	}
	switch status := strings.ToLower(strings.TrimSpace(resp.Header.Get(headerStatus))); {
	case status == "final":
		return OutcomeFinalized, resp.StatusCode, nil
	case status == "active" && !isLast:
		return OutcomeContinue, resp.StatusCode, nil
	default:
		return 0, resp.StatusCode, fmt.Errorf("unexpected upload status %q (finalize=%t)", status, isLast)
	}
}

// Finalize resolves the durable download reference for a finalized session.
// Repeated calls return the cached reference without touching the store.
func (s *Session) Finalize(ctx context.Context) (Reference, error) {
	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()

	s.mu.Lock()
	cached := s.ref
	finalized := s.finalized
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	if !finalized {
		return Reference{}, &services.FinalizeError{Name: s.name, Err: ErrNotFinalized}
	}

	ref, err := s.client.Lookup(ctx, s.name)
	if err != nil {
		return Reference{}, &services.FinalizeError{Name: s.name, Err: err}
	}
	if ref.ContentType == "" {
		ref.ContentType = s.contentType
	}

	s.mu.Lock()
	s.ref = &ref
	s.mu.Unlock()
	return ref, nil
}

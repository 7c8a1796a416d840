package transcribe_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"meetscribe/internal/retry"
	"meetscribe/internal/services"
	"meetscribe/internal/transcribe"
)

func TestTranscribeSendsStagingReference(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":            "hello ",
			"words":           []map[string]any{{"word": "hello", "start": 0.1, "end": 0.4}},
			"durationSeconds": 10,
			"language":        "en",
		})
	}))
	defer server.Close()

	client := transcribe.NewClient(transcribe.Config{BaseURL: server.URL + "/", APIKey: "key", Language: "en"})
	frag, err := client.Transcribe(context.Background(), transcribe.Request{
		SessionID:   "rec-1",
		ChunkIndex:  1,
		StagingURL:  "https://storage/staging/rec-1/1.webm?alt=media&token=t",
		ContentType: "audio/webm",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if frag.Text != "hello " || frag.Language != "en" || frag.DurationSeconds != 10 {
		t.Fatalf("unexpected fragment %+v", frag)
	}
	if len(frag.Words) != 1 || frag.Words[0].Text != "hello" {
		t.Fatalf("expected word alias mapped, got %+v", frag.Words)
	}
	if got["sessionId"] != "rec-1" || got["chunkIndex"] != float64(1) || got["isLast"] != false {
		t.Fatalf("unexpected request body %v", got)
	}
	if _, ok := got["audio"]; ok {
		t.Fatal("expected no inline audio when staging url is set")
	}
}

func TestTranscribeInlineAudio(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"text":"world."}`))
	}))
	defer server.Close()

	client := transcribe.NewClient(transcribe.Config{BaseURL: server.URL})
	frag, err := client.Transcribe(context.Background(), transcribe.Request{SessionID: "s", ChunkIndex: 2, IsLast: true, Audio: []byte("raw")})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if frag.Text != "world." {
		t.Fatalf("unexpected text %q", frag.Text)
	}
	if got["audio"] != base64.StdEncoding.EncodeToString([]byte("raw")) || got["isLast"] != true {
		t.Fatalf("unexpected inline request %v", got)
	}
}

func TestTranscribeStatusErrorsClassify(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadGateway)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", int(status.Load()))
	}))
	defer server.Close()
	client := transcribe.NewClient(transcribe.Config{BaseURL: server.URL})
	req := transcribe.Request{SessionID: "s", ChunkIndex: 1, Audio: []byte("x")}

	_, err := client.Transcribe(context.Background(), req)
	var statusErr *retry.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
	if !retry.Retryable(err) {
		t.Fatal("expected 502 to be retryable")
	}

	status.Store(http.StatusUnprocessableEntity)
	_, err = client.Transcribe(context.Background(), req)
	if retry.Retryable(err) {
		t.Fatalf("expected 422 to be terminal, got %v", err)
	}
}

func TestTranscribeTimeoutIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	client := transcribe.NewClient(transcribe.Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})

	_, err := client.Transcribe(context.Background(), transcribe.Request{SessionID: "s", ChunkIndex: 1, Audio: []byte("x")})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if !retry.Retryable(err) {
		t.Fatal("expected timeout to be retryable")
	}
}

func TestTranscribeValidatesRequest(t *testing.T) {
	client := transcribe.NewClient(transcribe.Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Transcribe(context.Background(), transcribe.Request{SessionID: "s", ChunkIndex: 1})
	if !errors.Is(err, services.ErrValidation) || retry.Retryable(err) {
		t.Fatalf("expected terminal validation error, got %v", err)
	}
}

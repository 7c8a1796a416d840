package summary_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"meetscribe/internal/retry"
	"meetscribe/internal/services"
	"meetscribe/internal/summary"
)

func chatServer(t *testing.T, status int, content string, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if seen != nil {
			*seen = append(*seen, body)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSummarizeSendsTranscript(t *testing.T) {
	var seen []map[string]any
	server := chatServer(t, http.StatusOK, "  A greeting.  ", &seen)
	client := summary.NewClient(summary.Config{APIKey: "sk", BaseURL: server.URL + "/v1", Model: "m", Prompt: "Summarize."}, nil)

	got, err := client.Summarize(context.Background(), "hello world.")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "A greeting." {
		t.Fatalf("unexpected summary %q", got)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one request, got %d", len(seen))
	}
	messages, _ := seen[0]["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", seen[0]["messages"])
	}
	user, _ := messages[1].(map[string]any)
	if user["content"] != "hello world." {
		t.Fatalf("expected transcript as user content, got %v", user)
	}
}

func TestSummarizeRejectsEmptyTranscript(t *testing.T) {
	client := summary.NewClient(summary.Config{APIKey: "sk", BaseURL: "http://127.0.0.1:1"}, nil)
	if _, err := client.Summarize(context.Background(), "   "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSummarizeExposesHTTPStatus(t *testing.T) {
	server := chatServer(t, http.StatusBadRequest, "", nil)
	client := summary.NewClient(summary.Config{APIKey: "sk", BaseURL: server.URL + "/v1"}, nil)

	_, err := client.Summarize(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	var status interface{ HTTPStatus() int }
	if !errors.As(err, &status) || status.HTTPStatus() != http.StatusBadRequest {
		t.Fatalf("expected HTTP status 400 on error, got %v", err)
	}
	if retry.Retryable(err) {
		t.Fatal("expected 400 to be terminal")
	}
}

func TestHealthCheckListsModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o-mini","object":"model"}]}`))
	}))
	defer server.Close()

	good := summary.NewClient(summary.Config{APIKey: "sk", BaseURL: server.URL + "/v1"}, nil)
	if err := good.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	bad := summary.NewClient(summary.Config{APIKey: "nope", BaseURL: server.URL + "/v1"}, nil)
	if err := bad.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected failure for rejected key")
	}
}

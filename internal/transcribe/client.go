// Package transcribe calls the per-chunk transcription service.
//
// The client performs exactly one HTTP exchange per call. Retrying is left to
// the caller so the per-session dispatcher owns the retry budget.
package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"meetscribe/internal/retry"
	"meetscribe/internal/services"
	"meetscribe/internal/transcript"
)

const (
	defaultTimeout  = 5 * time.Minute
	transcribePath  = "/v1/transcriptions"
	maxResponseBody = 16 << 20
)

// Config captures the runtime settings required to talk to the service.
type Config struct {
	BaseURL  string
	APIKey   string
	Language string
	Timeout  time.Duration
}

// Request identifies one chunk to transcribe. Exactly one of StagingURL and
// Audio is set.
type Request struct {
	SessionID   string
	ChunkIndex  int
	IsLast      bool
	StagingURL  string
	Audio       []byte
	ContentType string
}

// Client wraps the transcription HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a transcription client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Timeout returns the per-call deadline the client was configured with.
func (c *Client) Timeout() time.Duration { return c.cfg.Timeout }

type transcriptionRequest struct {
	SessionID   string `json:"sessionId"`
	StagingURL  string `json:"stagingUrl,omitempty"`
	Audio       string `json:"audio,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	ChunkIndex  int    `json:"chunkIndex"`
	IsLast      bool   `json:"isLast"`
	Language    string `json:"language,omitempty"`
}

type transcriptionWord struct {
	Text  string  `json:"text"`
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type transcriptionResponse struct {
	Text            string              `json:"text"`
	Words           []transcriptionWord `json:"words"`
	DurationSeconds float64             `json:"durationSeconds"`
	Language        string              `json:"language"`
}

// Transcribe submits one chunk and returns its transcript fragment.
func (c *Client) Transcribe(ctx context.Context, req Request) (transcript.Fragment, error) {
	var empty transcript.Fragment
	if c.cfg.BaseURL == "" {
		return empty, services.Wrap(services.ErrConfiguration, "transcribe", "request", "base url not configured", nil)
	}
	if req.StagingURL == "" && len(req.Audio) == 0 {
		return empty, services.Wrap(services.ErrValidation, "transcribe", "request", "staging url or inline audio required", nil)
	}
	payload := transcriptionRequest{
		SessionID:   req.SessionID,
		StagingURL:  req.StagingURL,
		ContentType: req.ContentType,
		ChunkIndex:  req.ChunkIndex,
		IsLast:      req.IsLast,
		Language:    c.cfg.Language,
	}
	if req.StagingURL == "" {
		payload.Audio = base64.StdEncoding.EncodeToString(req.Audio)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return empty, fmt.Errorf("transcribe: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+transcribePath, bytes.NewReader(body))
	if err != nil {
		return empty, fmt.Errorf("transcribe: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if requestID, ok := services.RequestIDFromContext(ctx); ok {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return empty, services.Wrap(services.ErrTimeout, "transcribe", "request", fmt.Sprintf("no response within %s", c.cfg.Timeout), err)
		}
		return empty, fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return empty, fmt.Errorf("transcribe: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return empty, retry.NewStatusError("transcribe", resp, raw)
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return empty, fmt.Errorf("transcribe: decode response: %w (body=%s)", err, retry.SummarizeBody(raw))
	}
	return parsed.fragment(), nil
}

func (r transcriptionResponse) fragment() transcript.Fragment {
	frag := transcript.Fragment{
		Text:            r.Text,
		DurationSeconds: r.DurationSeconds,
		Language:        strings.TrimSpace(r.Language),
	}
	if len(r.Words) > 0 {
		frag.Words = make([]transcript.Word, 0, len(r.Words))
		for _, w := range r.Words {
			text := w.Text
			if text == "" {
				text = w.Word
			}
			frag.Words = append(frag.Words, transcript.Word{Text: text, Start: w.Start, End: w.End})
		}
	}
	return frag
}

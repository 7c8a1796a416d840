// Package summary turns a finished transcript into a short meeting summary via
// an OpenAI-compatible chat completion API.
package summary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"meetscribe/internal/services"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 2 * time.Minute
	// maxInputRunes keeps very long meetings inside typical context windows.
	maxInputRunes = 60_000
)

// Config captures the runtime settings required to talk to the chat API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Prompt  string
	Timeout time.Duration
}

// Client generates summaries.
type Client struct {
	api    *openai.Client
	model  string
	prompt string
}

// NewClient constructs a summary client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	apiCfg := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		apiCfg.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	apiCfg.HTTPClient = httpClient

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		model:  model,
		prompt: strings.TrimSpace(cfg.Prompt),
	}
}

// Summarize returns a summary of text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", services.Wrap(services.ErrValidation, "summary", "summarize", "empty transcript", nil)
	}
	if runes := []rune(text); len(runes) > maxInputRunes {
		text = string(runes[:maxInputRunes])
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if c.prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.prompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("summary: response contained no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("summary: empty content (finish_reason=%q)", resp.Choices[0].FinishReason)
	}
	return content, nil
}

// apiStatusError exposes the HTTP status of go-openai errors to retry classification.
type apiStatusError struct {
	status int
	err    error
}

func (e *apiStatusError) Error() string   { return e.err.Error() }
func (e *apiStatusError) Unwrap() error   { return e.err }
func (e *apiStatusError) HTTPStatus() int { return e.status }

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &apiStatusError{status: apiErr.HTTPStatusCode, err: fmt.Errorf("summary: %w", err)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &apiStatusError{status: reqErr.HTTPStatusCode, err: fmt.Errorf("summary: %w", err)}
	}
	return fmt.Errorf("summary: %w", err)
}

// HealthCheck verifies the API is reachable and the key is accepted.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return classify(err)
	}
	return nil
}

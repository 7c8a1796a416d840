package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"meetscribe/internal/config"
)

const userAgent = "meetscribe/0.1.0"

// Event names a notification-worthy milestone.
type Event string

const (
	EventRecordingCompleted Event = "recording_completed"
	EventRecordingFailed    Event = "recording_failed"
	EventTest               Event = "test"
)

// Payload carries event-specific values. Unknown keys are ignored.
type Payload map[string]any

// Service publishes recording events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventRecordingCompleted: cfg.Notifications.Completed,
			EventRecordingFailed:    cfg.Notifications.Failed,
			EventTest:               true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventRecordingCompleted:
		title := payload.text("title", "Untitled meeting")
		body := fmt.Sprintf("✅ Transcribed: %s", title)
		if status := payload.text("transcriptStatus", ""); status == "partial" {
			body = fmt.Sprintf("⚠️ Transcribed with gaps: %s", title)
		}
		if url := payload.text("downloadURL", ""); url != "" {
			body = fmt.Sprintf("%s\n%s", body, url)
		}
		return message{
			title: "Meetscribe - Recording Complete",
			body:  body,
			tags:  []string{"meetscribe", "recording", "completed"},
		}, true
	case EventRecordingFailed:
		var b strings.Builder
		b.WriteString("❌ Recording failed: ")
		b.WriteString(payload.text("title", "Untitled meeting"))
		if reason := payload.text("error", ""); reason != "" {
			b.WriteString("\n")
			b.WriteString(reason)
		}
		if path := payload.text("localPath", ""); path != "" {
			b.WriteString("\nSaved locally: ")
			b.WriteString(path)
		}
		return message{
			title:    "Meetscribe - Recording Failed",
			body:     b.String(),
			tags:     []string{"meetscribe", "recording", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Meetscribe - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"meetscribe", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key, fallback string) string {
	if p == nil {
		return fallback
	}
	value, ok := p[key]
	if !ok || value == nil {
		return fallback
	}
	str := strings.TrimSpace(fmt.Sprint(value))
	if str == "" {
		return fallback
	}
	return str
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"avsync/internal/config"
)

const userAgent = "avsync/0.1.0"

// Event names a session milestone that can be published.
type Event string

const (
	EventSessionCorrected   Event = "session_corrected"
	EventSessionAlreadySync Event = "session_already_in_sync"
	EventSessionFailed      Event = "session_failed"
	EventTest               Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes session events to an external channel.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
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
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	file := payload.text("filename")
	switch event {
	case EventSessionCorrected:
		body := fmt.Sprintf("Synced: %s", file)
		if shift := payload.text("shiftMs"); shift != "" {
			body += fmt.Sprintf(" (audio shifted %s ms)", shift)
		}
		return message{
			title: "avsync - Corrected",
			body:  body,
			tags:  []string{"avsync", "sync", "corrected"},
		}, true
	case EventSessionAlreadySync:
		return message{
			title:    "avsync - Already In Sync",
			body:     fmt.Sprintf("Already in sync: %s", file),
			tags:     []string{"avsync", "sync", "unchanged"},
			priority: "low",
		}, true
	case EventSessionFailed:
		var b strings.Builder
		b.WriteString("Sync failed")
		if file != "" {
			b.WriteString(" for ")
			b.WriteString(file)
		}
		if kind := payload.text("kind"); kind != "" {
			b.WriteString(" [")
			b.WriteString(kind)
			b.WriteString("]")
		}
		if reason := payload.text("error"); reason != "" {
			b.WriteString(": ")
			b.WriteString(reason)
		}
		return message{
			title:    "avsync - Error",
			body:     b.String(),
			tags:     []string{"avsync", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "avsync - Test",
			body:     "Notification system test",
			tags:     []string{"avsync", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key string) string {
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

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

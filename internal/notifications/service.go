package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/config"
)

const userAgent = "fieldsync/0.1.0"

// Service defines the notification surface exposed to the daemon.
type Service interface {
	NotifySyncStarted(ctx context.Context, family string, count int) error
	NotifySyncCompleted(ctx context.Context, family string, failures int) error
	NotifyItemFailed(ctx context.Context, family, itemID, cause string) error
	NotifyReviewReady(ctx context.Context, itemID string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// Without a topic a noop implementation is returned.
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

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifySyncStarted(ctx context.Context, family string, count int) error {
	data := payload{
		title:   "Fieldsync - Sync Started",
		message: fmt.Sprintf("Syncing %d %s item(s)", count, family),
		tags:    []string{"fieldsync", "sync", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySyncCompleted(ctx context.Context, family string, failures int) error {
	var data payload
	if failures == 0 {
		data = payload{
			title:   "Fieldsync - Sync Complete",
			message: fmt.Sprintf("All %s items delivered", family),
			tags:    []string{"fieldsync", "sync", "completed"},
		}
	} else {
		data = payload{
			title:    "Fieldsync - Sync Complete (with errors)",
			message:  fmt.Sprintf("%s sync finished with %d failure(s)", family, failures),
			tags:     []string{"fieldsync", "sync", "completed"},
			priority: "high",
		}
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyItemFailed(ctx context.Context, family, itemID, cause string) error {
	cause = strings.TrimSpace(cause)
	if cause == "" {
		cause = "unknown"
	}
	data := payload{
		title:    "Fieldsync - Item Failed",
		message:  fmt.Sprintf("%s %s failed: %s", family, itemID, cause),
		tags:     []string{"fieldsync", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyReviewReady(ctx context.Context, itemID string) error {
	data := payload{
		title:   "Fieldsync - Review Ready",
		message: fmt.Sprintf("Task %s is transcribed and waiting for review", itemID),
		tags:    []string{"fieldsync", "task", "review"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Fieldsync - Test",
		message:  "Notification system test",
		tags:     []string{"fieldsync", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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

func (noopService) NotifySyncStarted(context.Context, string, int) error { return nil }

func (noopService) NotifySyncCompleted(context.Context, string, int) error { return nil }

func (noopService) NotifyItemFailed(context.Context, string, string, string) error { return nil }

func (noopService) NotifyReviewReady(context.Context, string) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }

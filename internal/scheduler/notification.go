package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kestrel-labs/assistant-orchestrator/internal/store"
)

// NotificationSink delivers a fired reminder to whatever external channel
// the deployment wants (a chat surface, an email relay, a webhook). The
// fire_reminders job calls Notify once per due reminder inside the same
// transaction that flips its fired flag (store.FireDueReminders); a
// returning error rolls that reminder back so the next tick retries it.
type NotificationSink interface {
	Notify(ctx context.Context, r *store.Reminder) error
}

// WebhookSink posts a JSON payload to a configured URL with a fixed payload
// shape, since this sink has a single caller.
type WebhookSink struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewWebhookSink builds a WebhookSink. An empty URL makes Notify a no-op,
// useful for deployments that don't want outbound reminder delivery.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookSink{URL: url, Client: http.DefaultClient, Timeout: timeout}
}

type webhookPayload struct {
	ReminderID string    `json:"reminder_id"`
	UserID     string    `json:"user_id"`
	Workspace  string    `json:"workspace"`
	Content    string    `json:"content"`
	FireAt     time.Time `json:"fire_at"`
}

func (w *WebhookSink) Notify(ctx context.Context, r *store.Reminder) error {
	if w.URL == "" {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		ReminderID: r.ID,
		UserID:     r.UserID,
		Workspace:  r.Workspace,
		Content:    r.Content,
		FireAt:     r.FireAt,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

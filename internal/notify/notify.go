// Package notify delivers the run summary to an operator-configured
// sink. Delivery is fire-and-forget: a failed notification is logged and
// never changes the run's exit code.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Notifier receives the summary.json payload when a run completes.
type Notifier interface {
	Notify(ctx context.Context, summary []byte) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, []byte) error { return nil }

// Webhook POSTs the summary to a single URL with a bounded timeout.
type Webhook struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

// NewWebhook creates a webhook notifier for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, Timeout: 15 * time.Second}
}

func (w *Webhook) Notify(ctx context.Context, summary []byte) error {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(summary))
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}

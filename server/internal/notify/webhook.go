package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tubedrift/tubedrift/server/internal/config"
)

const webhookAttempts = 3

// errPermanent marks a delivery failure that retrying will not fix.
var errPermanent = errors.New("permanent failure")

// Webhook posts notifications to a Slack, Teams or generic HTTP endpoint.
type Webhook struct {
	kind    string
	url     string
	client  *http.Client
	backoff time.Duration // first retry delay; injectable for tests
}

var _ Sink = (*Webhook)(nil)

// NewWebhook builds a sink for cfg. The URL is resolved from the environment
// once, at construction.
func NewWebhook(cfg config.WebhookConfig) (*Webhook, error) {
	url := cfg.URL()
	if url == "" {
		return nil, fmt.Errorf("notify: webhook %s: %s is empty", cfg.Type, cfg.URLEnv)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultWebhookTimeout
	}
	return &Webhook{
		kind:    cfg.Type,
		url:     url,
		client:  &http.Client{Timeout: timeout},
		backoff: backoffInitial,
	}, nil
}

func (w *Webhook) Name() string { return "webhook:" + w.kind }

// Send delivers n, retrying transient failures with backoff.
func (w *Webhook) Send(ctx context.Context, n Notification) error {
	body, err := w.payload(n)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err = w.post(ctx, body)
		if err == nil || errors.Is(err, errPermanent) || attempt == webhookAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay(w.backoff, attempt)):
		}
	}
}

func (w *Webhook) payload(n Notification) ([]byte, error) {
	switch w.kind {
	case "slack":
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*tubedrift* session `%s`: new results for %s", n.SessionID, changedList(n)),
		})
	case "teams":
		return json.Marshal(map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": "00D4FF",
			"summary":    "tubedrift results changed",
			"title":      fmt.Sprintf("tubedrift: session %s", n.SessionID),
			"text":       "New results for " + changedList(n),
		})
	case "http":
		return json.Marshal(map[string]any{"notification": n})
	}
	return nil, fmt.Errorf("notify: unknown webhook type %q", w.kind)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %v: %w", err, errPermanent)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("webhook returned HTTP %d: %w", resp.StatusCode, errPermanent)
	}
	return nil
}

func changedList(n Notification) string {
	if len(n.Changed) == 0 {
		return "tracked searches"
	}
	quoted := make([]string, len(n.Changed))
	for i, q := range n.Changed {
		quoted[i] = `"` + q + `"`
	}
	return strings.Join(quoted, ", ")
}

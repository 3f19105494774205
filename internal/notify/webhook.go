package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/retry"
)

// Webhook POSTs events as JSON to a fixed URL. Transport failures and
// retryable statuses (429, 5xx) are retried with backoff.
type Webhook struct {
	url    string
	client *http.Client
	retry  retry.Config
	logger zerolog.Logger
}

// NewWebhook creates a webhook notifier making at most retries+1 attempts.
func NewWebhook(url string, timeout time.Duration, retries int, logger zerolog.Logger) *Webhook {
	if retries < 0 {
		retries = 0
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry: retry.Config{
			MaxAttempts: retries + 1,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Jitter:      true,
		},
		logger: logger.With().Str("component", "notify_webhook").Logger(),
	}
}

// Notify delivers e.
func (w *Webhook) Notify(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	log := w.logger.With().Str("type", e.Type).Logger()
	cfg := w.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("webhook delivery failed, retrying")
	}

	attempts := 0
	err = retry.Do(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return w.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, err)
	}
	log.Debug().Int("attempts", attempts).Msg("webhook delivered")
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bootstrap-orchestrator-notify/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrUnavailable, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return perrors.NewAPIError("webhook", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// WebhookNotifier POSTs the summary as JSON to a URL.
type WebhookNotifier struct {
	url        string
	token      string
	httpClient *http.Client
	log        *logger.Logger
}

func NewWebhookNotifier(url, token string, timeout time.Duration, log *logger.Logger) *WebhookNotifier {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, s domain.Summary) error {
	start := time.Now()
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "NightShift")
	if n.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", n.token))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	n.log.Infow("notify_webhook_response",
		"task_id", s.TaskID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (n *WebhookNotifier) Close() error { return nil }

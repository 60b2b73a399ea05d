package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookCaller posts automation webhook steps to customer endpoints.
type WebhookCaller struct {
	client *http.Client
	logger *zap.Logger
}

type WebhookConfig struct {
	Timeout time.Duration
}

// NewWebhookCaller creates an HTTP webhook caller.
func NewWebhookCaller(logger *zap.Logger, cfg WebhookConfig) *WebhookCaller {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookCaller{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Call sends the JSON body to the URL. Methods other than POST/PUT/PATCH
// are rejected; non-2xx responses are errors so the job retry policy
// applies.
func (w *WebhookCaller) Call(ctx context.Context, method, url string, body any) error {
	if url == "" {
		return fmt.Errorf("webhook step missing url")
	}
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return fmt.Errorf("webhook method not supported: %s (only POST, PUT, PATCH)", method)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Cascade/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	w.logger.Info("webhook delivered",
		zap.String("url", url),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

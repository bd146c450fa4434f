package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashen-peak/logtide/internal/models"
)

// WebhookConfig holds webhook notifier configuration.
type WebhookConfig struct {
	URL     string        // Endpoint receiving alert JSON payloads
	Timeout time.Duration // Per-delivery timeout (default: 30s)
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "https://") && !strings.HasPrefix(c.URL, "http://") {
		return fmt.Errorf("webhook URL must be http or https")
	}
	return nil
}

// WebhookNotifier posts raised alerts to an HTTP endpoint as JSON.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// webhookPayload is the body posted for each alert.
type webhookPayload struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	ConnectionID string    `json:"connection_id"`
	Type         string    `json:"type"`
	Severity     string    `json:"severity"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

// Send posts the alert to the configured endpoint.
func (w *WebhookNotifier) Send(ctx context.Context, alert *models.Alert) error {
	body, err := json.Marshal(webhookPayload{
		ID:           alert.ID,
		ProjectID:    alert.ProjectID,
		ConnectionID: alert.ConnectionID,
		Type:         string(alert.Type),
		Severity:     string(alert.Severity),
		Title:        alert.Title,
		Description:  alert.Description,
		CreatedAt:    alert.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Close releases resources.
func (w *WebhookNotifier) Close() error {
	w.httpClient.CloseIdleConnections()
	return nil
}

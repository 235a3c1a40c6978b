package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/call"
)

// WebhookConfig holds webhook channel settings.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Enabled bool
}

// WebhookChannel posts flagged-call alerts to an HTTP endpoint as JSON.
type WebhookChannel struct {
	config     WebhookConfig
	logger     *logrus.Entry
	httpClient *http.Client
}

// NewWebhookChannel creates a webhook channel. A nil httpClient falls back
// to a default client with a 10 second timeout.
func NewWebhookChannel(logger *logrus.Logger, config WebhookConfig, httpClient *http.Client) *WebhookChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{
		config:     config,
		logger:     logger.WithField("component", "webhook_channel"),
		httpClient: httpClient,
	}
}

// Send posts one flagged call.
func (w *WebhookChannel) Send(fc *call.FlaggedCall) error {
	return w.post(map[string]interface{}{
		"type":         "flagged_call",
		"flagged_call": fc,
		"timestamp":    time.Now().Unix(),
	})
}

// SendDigest posts a batch of low-severity flagged calls.
func (w *WebhookChannel) SendDigest(fcs []*call.FlaggedCall) error {
	return w.post(map[string]interface{}{
		"type":          "flagged_call_digest",
		"flagged_calls": fcs,
		"count":         len(fcs),
		"timestamp":     time.Now().Unix(),
	})
}

func (w *WebhookChannel) post(payload map[string]interface{}) error {
	if w.config.URL == "" {
		return fmt.Errorf("webhook channel not properly configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.config.URL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// GetName implements Channel.
func (w *WebhookChannel) GetName() string {
	return "webhook"
}

// IsEnabled implements Channel.
func (w *WebhookChannel) IsEnabled() bool {
	return w.config.Enabled && w.config.URL != ""
}

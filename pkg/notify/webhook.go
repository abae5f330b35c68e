package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier delivers alerts as JSON POST requests
type WebhookNotifier struct {
	url      string
	client   *http.Client
	template *Template
}

type webhookPayload struct {
	Subject   string  `json:"subject"`
	Text      string  `json:"text"`
	Level     float64 `json:"battery_level"`
	Threshold float64 `json:"threshold"`
	Recipient string  `json:"recipient,omitempty"`
	DeviceID  string  `json:"device_id,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// NewWebhookNotifier instantiates a new WebhookNotifier
func NewWebhookNotifier(url string, tpl *Template) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("webhook notifier: empty url")
	}
	if tpl == nil {
		var err error
		if tpl, err = NewTemplate(""); err != nil {
			return nil, err
		}
	}
	return &WebhookNotifier{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		template: tpl,
	}, nil
}

// Notify posts the alert to the webhook
func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	text, err := n.template.Render(alert)
	if err != nil {
		return fmt.Errorf("failed to render alert: %w", err)
	}

	body, err := json.Marshal(webhookPayload{
		Subject:   DefaultSubject,
		Text:      text,
		Level:     alert.Level,
		Threshold: alert.Threshold,
		Recipient: alert.Recipient,
		DeviceID:  alert.DeviceID,
		Timestamp: alert.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: unexpected status %d", resp.StatusCode)
	}
	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// webhookPayload is the canonical JSON envelope posted to generic webhooks.
type webhookPayload struct {
	ID         string  `json:"id"`
	DeviceID   string  `json:"deviceId"`
	DeviceName string  `json:"deviceName,omitempty"`
	Metric     string  `json:"metric"`
	Severity   string  `json:"severity"`
	Threshold  float64 `json:"threshold"`
	Value      float64 `json:"value"`
	Message    string  `json:"message"`
	Time       string  `json:"time"`
	Source     string  `json:"source"`
}

func (d *Dispatcher) sendWebhook(ctx context.Context, cfg *WebhookConfig, event *models.AlertEvent) error {
	payload := webhookPayload{
		ID:         event.ID,
		DeviceID:   event.DeviceID,
		DeviceName: event.DeviceName,
		Metric:     event.Metric,
		Severity:   string(event.Severity),
		Threshold:  event.Threshold,
		Value:      event.Value,
		Message:    event.Message,
		Time:       event.Time.Format(time.RFC3339),
		Source:     "parapet",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return permanent(fmt.Errorf("marshal webhook payload: %w", err))
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "parapet-collector")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return permanent(fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook failed: HTTP %d", resp.StatusCode)
	}
}

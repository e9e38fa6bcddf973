package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/parapetdev/parapet/internal/models"
)

func severityColor(s models.AlertSeverity) string {
	switch s {
	case models.SeverityCritical:
		return "#dc2626"
	case models.SeverityWarning:
		return "#f59e0b"
	default:
		return "#3b82f6"
	}
}

func (d *Dispatcher) sendSlack(ctx context.Context, cfg *SlackConfig, event *models.AlertEvent) error {
	device := event.DeviceName
	if device == "" {
		device = event.DeviceID
	}

	username := cfg.Username
	if username == "" {
		username = "Parapet"
	}

	msg := &slack.WebhookMessage{
		Username: username,
		Channel:  cfg.Channel,
		Text:     fmt.Sprintf("%s alert: %s on %s", strings.ToUpper(string(event.Severity)), event.Metric, device),
		Attachments: []slack.Attachment{
			{
				Color: severityColor(event.Severity),
				Text:  event.Message,
				Fields: []slack.AttachmentField{
					{Title: "Device", Value: device, Short: true},
					{Title: "Metric", Value: event.Metric, Short: true},
					{Title: "Value", Value: fmt.Sprintf("%.2f", event.Value), Short: true},
					{Title: "Threshold", Value: fmt.Sprintf("%.2f", event.Threshold), Short: true},
				},
				Footer: "parapet",
				Ts:     json64(event.Time),
			},
		},
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, cfg.WebhookURL, d.httpClient, msg); err != nil {
		if se, ok := err.(slack.StatusCodeError); ok && se.Code >= 400 && se.Code < 500 {
			return permanent(fmt.Errorf("slack rejected: %w", err))
		}
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

func json64(t time.Time) json.Number {
	return json.Number(fmt.Sprintf("%d", t.Unix()))
}

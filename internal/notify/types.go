// Package notify delivers formatted alerts to operator-configured channels:
// SMTP email, generic webhooks, and Slack incoming webhooks. Deliveries are
// independent per channel; transport failures retry with exponential backoff
// while authentication and client errors fail immediately.
package notify

import (
	"fmt"
	"time"
)

// ChannelKind enumerates supported delivery mechanisms.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelWebhook ChannelKind = "webhook"
	ChannelSlack   ChannelKind = "slack"
)

// Channel is one configured notification target. Exactly one of the typed
// configs matching Kind must be set.
type Channel struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Kind    ChannelKind `json:"kind"`
	Enabled bool        `json:"enabled"`

	Email   *EmailConfig   `json:"email,omitempty"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`
	Slack   *SlackConfig   `json:"slack,omitempty"`
}

// Validate rejects channels whose typed config does not match their kind.
func (c *Channel) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("channel id is required")
	}
	switch c.Kind {
	case ChannelEmail:
		if c.Email == nil {
			return fmt.Errorf("channel %s: email config is required", c.ID)
		}
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("channel %s: SMTP server is required", c.ID)
		}
		if c.Email.From == "" {
			return fmt.Errorf("channel %s: from address is required", c.ID)
		}
	case ChannelWebhook:
		if c.Webhook == nil || c.Webhook.URL == "" {
			return fmt.Errorf("channel %s: webhook URL is required", c.ID)
		}
	case ChannelSlack:
		if c.Slack == nil || c.Slack.WebhookURL == "" {
			return fmt.Errorf("channel %s: Slack webhook URL is required", c.ID)
		}
	default:
		return fmt.Errorf("channel %s: unknown kind %q", c.ID, c.Kind)
	}
	return nil
}

// EmailConfig holds SMTP settings for an email channel.
type EmailConfig struct {
	SMTPHost string   `json:"server"`
	SMTPPort int      `json:"port"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	TLS      bool     `json:"tls"`      // implicit TLS from the first byte
	StartTLS bool     `json:"startTLS"` // upgrade after EHLO
}

// WebhookConfig holds settings for a generic webhook channel.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"` // default POST
	Headers map[string]string `json:"headers,omitempty"`
}

// SlackConfig holds settings for a Slack incoming-webhook channel.
type SlackConfig struct {
	WebhookURL string `json:"webhookUrl"`
	Channel    string `json:"channel,omitempty"`
	Username   string `json:"username,omitempty"`
}

// Result is the outcome of one channel delivery attempt.
type Result struct {
	ChannelID   string        `json:"channelId"`
	ChannelName string        `json:"channelName"`
	Kind        ChannelKind   `json:"kind"`
	OK          bool          `json:"ok"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	Elapsed     time.Duration `json:"elapsed"`
}

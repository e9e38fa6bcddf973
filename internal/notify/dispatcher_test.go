package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

func testEvent() *models.AlertEvent {
	return &models.AlertEvent{
		ID:         "evt-1",
		ConfigID:   "cfg-1",
		DeviceID:   "dev-1",
		DeviceName: "Edge FW",
		Metric:     "cpu",
		Threshold:  90,
		Value:      95.5,
		Severity:   models.SeverityCritical,
		Message:    "CPU usage is 95.5% (threshold 90%)",
		Time:       time.Now(),
	}
}

func TestChannelValidate(t *testing.T) {
	cases := []struct {
		name    string
		channel Channel
		wantErr bool
	}{
		{"email ok", Channel{ID: "a", Kind: ChannelEmail, Email: &EmailConfig{SMTPHost: "smtp.example.com", From: "fw@example.com"}}, false},
		{"email missing host", Channel{ID: "a", Kind: ChannelEmail, Email: &EmailConfig{From: "fw@example.com"}}, true},
		{"email missing config", Channel{ID: "a", Kind: ChannelEmail}, true},
		{"webhook ok", Channel{ID: "b", Kind: ChannelWebhook, Webhook: &WebhookConfig{URL: "https://example.com/hook"}}, false},
		{"webhook missing url", Channel{ID: "b", Kind: ChannelWebhook, Webhook: &WebhookConfig{}}, true},
		{"slack ok", Channel{ID: "c", Kind: ChannelSlack, Slack: &SlackConfig{WebhookURL: "https://hooks.slack.com/x"}}, false},
		{"unknown kind", Channel{ID: "d", Kind: "pager"}, true},
		{"missing id", Channel{Kind: ChannelWebhook, Webhook: &WebhookConfig{URL: "https://example.com"}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.channel.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestWebhookDelivery(t *testing.T) {
	var received atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received.Store(payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	d.SetChannels([]Channel{{
		ID:      "hook",
		Name:    "Ops hook",
		Kind:    ChannelWebhook,
		Enabled: true,
		Webhook: &WebhookConfig{URL: server.URL, Headers: map[string]string{"X-Token": "secret"}},
	}})

	results := d.Send(context.Background(), testEvent(), []string{"hook"})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].OK {
		t.Fatalf("delivery failed: %s", results[0].Error)
	}
	if results[0].Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", results[0].Attempts)
	}

	payload := received.Load().(map[string]any)
	if payload["deviceId"] != "dev-1" {
		t.Errorf("deviceId = %v", payload["deviceId"])
	}
	if payload["metric"] != "cpu" {
		t.Errorf("metric = %v", payload["metric"])
	}
	if payload["severity"] != "critical" {
		t.Errorf("severity = %v", payload["severity"])
	}
}

func TestWebhook4xxDoesNotRetry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	d := NewDispatcher()
	d.retryDelay = time.Millisecond
	d.SetChannels([]Channel{{
		ID: "hook", Kind: ChannelWebhook, Enabled: true,
		Webhook: &WebhookConfig{URL: server.URL},
	}})

	results := d.Send(context.Background(), testEvent(), []string{"hook"})
	if results[0].OK {
		t.Fatal("expected failure")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 call for 4xx, got %d", got)
	}
}

func TestWebhook5xxRetriesThenFails(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewDispatcher()
	d.retryDelay = time.Millisecond
	d.SetChannels([]Channel{{
		ID: "hook", Kind: ChannelWebhook, Enabled: true,
		Webhook: &WebhookConfig{URL: server.URL},
	}})

	results := d.Send(context.Background(), testEvent(), []string{"hook"})
	if results[0].OK {
		t.Fatal("expected failure")
	}
	if got := calls.Load(); got != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, got)
	}
}

func TestWebhookRecoversOnRetry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	d.retryDelay = time.Millisecond
	d.SetChannels([]Channel{{
		ID: "hook", Kind: ChannelWebhook, Enabled: true,
		Webhook: &WebhookConfig{URL: server.URL},
	}})

	results := d.Send(context.Background(), testEvent(), []string{"hook"})
	if !results[0].OK {
		t.Fatalf("expected recovery, got: %s", results[0].Error)
	}
	if results[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", results[0].Attempts)
	}
}

func TestChannelIndependence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	d.retryDelay = time.Millisecond
	d.sendEmail = func(ctx context.Context, cfg *EmailConfig, subject, body string) error {
		return permanent(errors.New("smtp auth: rejected"))
	}
	d.SetChannels([]Channel{
		{ID: "mail", Kind: ChannelEmail, Enabled: true, Email: &EmailConfig{SMTPHost: "smtp.example.com", From: "a@b.c"}},
		{ID: "hook", Kind: ChannelWebhook, Enabled: true, Webhook: &WebhookConfig{URL: server.URL}},
	})

	results := d.Send(context.Background(), testEvent(), []string{"mail", "hook"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].OK {
		t.Error("email should have failed")
	}
	if !results[1].OK {
		t.Errorf("webhook should have succeeded despite email failure: %s", results[1].Error)
	}
}

func TestSendUnknownAndDisabledChannels(t *testing.T) {
	d := NewDispatcher()
	d.SetChannels([]Channel{{
		ID: "off", Kind: ChannelWebhook, Enabled: false,
		Webhook: &WebhookConfig{URL: "https://example.com"},
	}})

	results := d.Send(context.Background(), testEvent(), []string{"missing", "off"})
	if results[0].OK || results[0].Error != "unknown channel" {
		t.Errorf("unknown channel result = %+v", results[0])
	}
	if results[1].OK || results[1].Error != "channel disabled" {
		t.Errorf("disabled channel result = %+v", results[1])
	}
}

func TestEmailSendSeam(t *testing.T) {
	var gotSubject, gotBody string
	d := NewDispatcher()
	d.sendEmail = func(ctx context.Context, cfg *EmailConfig, subject, body string) error {
		gotSubject, gotBody = subject, body
		return nil
	}
	d.SetChannels([]Channel{{
		ID: "mail", Kind: ChannelEmail, Enabled: true,
		Email: &EmailConfig{SMTPHost: "smtp.example.com", From: "fw@example.com", To: []string{"ops@example.com"}},
	}})

	results := d.Send(context.Background(), testEvent(), []string{"mail"})
	if !results[0].OK {
		t.Fatalf("send failed: %s", results[0].Error)
	}
	if gotSubject != "[CRITICAL] cpu alert on Edge FW" {
		t.Errorf("subject = %q", gotSubject)
	}
	if gotBody == "" || !containsAll(gotBody, "Edge FW", "95.50", "90.00") {
		t.Errorf("body missing fields: %q", gotBody)
	}
}

func TestTestChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	d.SetChannels([]Channel{{
		ID: "hook", Kind: ChannelWebhook, Enabled: true,
		Webhook: &WebhookConfig{URL: server.URL},
	}})

	if res := d.Test(context.Background(), "hook"); !res.OK {
		t.Errorf("Test() failed: %s", res.Error)
	}
	if res := d.Test(context.Background(), "nope"); res.OK {
		t.Error("Test() on unknown channel should fail")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

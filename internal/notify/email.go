package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// formatEmail renders the subject and plain-text body for an alert event.
func formatEmail(event *models.AlertEvent) (subject, body string) {
	device := event.DeviceName
	if device == "" {
		device = event.DeviceID
	}
	subject = fmt.Sprintf("[%s] %s alert on %s", strings.ToUpper(string(event.Severity)), event.Metric, device)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\r\n\r\n", event.Message)
	fmt.Fprintf(&b, "Device:    %s\r\n", device)
	fmt.Fprintf(&b, "Metric:    %s\r\n", event.Metric)
	fmt.Fprintf(&b, "Severity:  %s\r\n", event.Severity)
	fmt.Fprintf(&b, "Value:     %.2f (threshold %.2f)\r\n", event.Value, event.Threshold)
	fmt.Fprintf(&b, "Triggered: %s\r\n", event.Time.Format(time.RFC1123))
	return subject, b.String()
}

// smtpSend delivers one message over SMTP, honoring implicit TLS or STARTTLS
// per the channel configuration. SMTP authentication rejections (5xx replies)
// are permanent; dial and handshake failures stay retryable.
func (d *Dispatcher) smtpSend(ctx context.Context, cfg *EmailConfig, subject, body string) error {
	recipients := cfg.To
	if len(recipients) == 0 {
		recipients = []string{cfg.From}
	}

	port := cfg.SMTPPort
	if port == 0 {
		if cfg.TLS {
			port = 465
		} else {
			port = 587
		}
	}
	addr := net.JoinHostPort(cfg.SMTPHost, fmt.Sprintf("%d", port))

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	var conn net.Conn
	var err error
	if cfg.TLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: cfg.SMTPHost}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}

	// Keep the whole session bounded by the context deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	client, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if cfg.StartTLS && !cfg.TLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return permanent(fmt.Errorf("smtp server %s does not offer STARTTLS", cfg.SMTPHost))
		}
		if err := client.StartTLS(&tls.Config{ServerName: cfg.SMTPHost}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return permanent(fmt.Errorf("smtp auth: %w", err))
		}
	}

	if err := client.Mail(cfg.From); err != nil {
		return permanent(fmt.Errorf("smtp mail from: %w", err))
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return permanent(fmt.Errorf("smtp rcpt %s: %w", rcpt, err))
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg := buildMessage(cfg.From, recipients, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func buildMessage(from string, to []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

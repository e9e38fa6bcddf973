package notify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/pkg/tlsutil"
)

const (
	// maxAttempts bounds delivery tries per channel: one send plus retries.
	maxAttempts = 4
	// baseRetryDelay doubles per attempt: 2s, 4s, 8s.
	baseRetryDelay = 2 * time.Second
)

// Dispatcher fans an alert event out to its configured channels. Channel
// deliveries run concurrently and independently; one failing channel never
// blocks or aborts the others.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]*Channel

	httpClient *http.Client

	// retryDelay is the backoff base; tests shrink it.
	retryDelay time.Duration

	// sendEmail is the SMTP seam, replaceable in tests.
	sendEmail func(ctx context.Context, cfg *EmailConfig, subject, body string) error
}

// NewDispatcher returns a dispatcher with no channels configured.
func NewDispatcher() *Dispatcher {
	transport := &http.Transport{
		DialContext:         tlsutil.DialContextWithCache,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	d := &Dispatcher{
		channels: make(map[string]*Channel),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   15 * time.Second,
		},
		retryDelay: baseRetryDelay,
	}
	d.sendEmail = d.smtpSend
	return d
}

// SetChannels atomically replaces the channel set, typically on a config
// reload. Invalid channels are dropped with a warning.
func (d *Dispatcher) SetChannels(channels []Channel) {
	next := make(map[string]*Channel, len(channels))
	for i := range channels {
		ch := channels[i]
		if err := ch.Validate(); err != nil {
			log.Warn().Err(err).Str("channel", ch.ID).Msg("Ignoring invalid notification channel")
			continue
		}
		next[ch.ID] = &ch
	}
	d.mu.Lock()
	d.channels = next
	d.mu.Unlock()
}

// Channels returns the currently configured channels.
func (d *Dispatcher) Channels() []Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, *ch)
	}
	return out
}

// Channel returns one channel by id.
func (d *Dispatcher) Channel(id string) (*Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[id]
	return ch, ok
}

// Send delivers the event to every named channel and reports the per-channel
// outcome. Unknown or disabled channel ids yield failed results rather than
// errors; the caller has already committed the alert to history.
func (d *Dispatcher) Send(ctx context.Context, event *models.AlertEvent, channelIDs []string) []Result {
	results := make([]Result, len(channelIDs))

	var wg sync.WaitGroup
	for i, id := range channelIDs {
		d.mu.RLock()
		ch, ok := d.channels[id]
		d.mu.RUnlock()

		if !ok {
			results[i] = Result{ChannelID: id, OK: false, Error: "unknown channel"}
			continue
		}
		if !ch.Enabled {
			results[i] = Result{ChannelID: id, ChannelName: ch.Name, Kind: ch.Kind, OK: false, Error: "channel disabled"}
			continue
		}

		wg.Add(1)
		go func(i int, ch *Channel) {
			defer wg.Done()
			results[i] = d.deliver(ctx, ch, event)
		}(i, ch)
	}
	wg.Wait()

	for _, r := range results {
		if r.OK {
			log.Info().
				Str("channel", r.ChannelID).
				Str("kind", string(r.Kind)).
				Int("attempts", r.Attempts).
				Str("device", event.DeviceID).
				Str("metric", event.Metric).
				Msg("Alert notification delivered")
		} else {
			log.Warn().
				Str("channel", r.ChannelID).
				Str("kind", string(r.Kind)).
				Str("device", event.DeviceID).
				Str("metric", event.Metric).
				Str("error", r.Error).
				Msg("Alert notification failed")
		}
	}
	return results
}

// Test sends a synthetic event through one channel so operators can verify
// credentials before relying on it.
func (d *Dispatcher) Test(ctx context.Context, channelID string) Result {
	d.mu.RLock()
	ch, ok := d.channels[channelID]
	d.mu.RUnlock()
	if !ok {
		return Result{ChannelID: channelID, OK: false, Error: "unknown channel"}
	}

	now := time.Now()
	event := &models.AlertEvent{
		ID:         "test",
		DeviceID:   "test-device",
		DeviceName: "Test Firewall",
		Metric:     "test",
		Severity:   models.SeverityInfo,
		Message:    "Test notification: channel is configured correctly.",
		Time:       now,
	}
	return d.deliver(ctx, ch, event)
}

// deliver runs one channel's send with the bounded retry schedule. Transport
// failures back off and retry; anything classified permanent returns at once.
func (d *Dispatcher) deliver(ctx context.Context, ch *Channel, event *models.AlertEvent) Result {
	res := Result{ChannelID: ch.ID, ChannelName: ch.Name, Kind: ch.Kind}
	start := time.Now()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		err = d.sendOnce(ctx, ch, event)
		if err == nil {
			res.OK = true
			res.Elapsed = time.Since(start)
			return res
		}
		if !retryableDelivery(err) || attempt == maxAttempts {
			break
		}

		delay := d.retryDelay << (attempt - 1)
		log.Debug().
			Str("channel", ch.ID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying notification delivery")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Error = ctx.Err().Error()
			res.Elapsed = time.Since(start)
			return res
		case <-timer.C:
		}
	}

	res.Error = err.Error()
	res.Elapsed = time.Since(start)
	return res
}

func (d *Dispatcher) sendOnce(ctx context.Context, ch *Channel, event *models.AlertEvent) error {
	switch ch.Kind {
	case ChannelEmail:
		subject, body := formatEmail(event)
		return d.sendEmail(ctx, ch.Email, subject, body)
	case ChannelWebhook:
		return d.sendWebhook(ctx, ch.Webhook, event)
	case ChannelSlack:
		return d.sendSlack(ctx, ch.Slack, event)
	default:
		return errors.New("unknown channel kind")
	}
}

// permanentError marks a delivery failure that resending cannot fix:
// authentication rejections and HTTP client errors.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// retryableDelivery reports whether the failure looks transient: timeouts,
// resets, DNS trouble. Permanent classifications never retry.
func retryableDelivery(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "EOF")
}

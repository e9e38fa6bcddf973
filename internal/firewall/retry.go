package firewall

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig controls the backoff schedule for transient device errors.
type RetryConfig struct {
	Attempts   int           // retries after the first try
	Initial    time.Duration // first retry delay
	Multiplier float64
	Max        time.Duration
}

// DefaultRetry yields delays of 2s, 4s, 8s.
var DefaultRetry = RetryConfig{
	Attempts:   3,
	Initial:    2 * time.Second,
	Multiplier: 2,
}

func (cfg RetryConfig) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(cfg.Initial)
	if base <= 0 {
		base = float64(2 * time.Second)
	}
	multiplier := cfg.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt))
	if cfg.Max > 0 && delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}
	return time.Duration(delay)
}

// Retry runs fn, retrying transient failures per cfg. Auth, validation and
// protocol errors abort immediately; ctx cancellation cuts the wait short.
func Retry(ctx context.Context, cfg RetryConfig, op, device string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) || attempt >= cfg.Attempts {
			return lastErr
		}

		delay := cfg.nextDelay(attempt)
		log.Debug().
			Str("op", op).
			Str("device", device).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(lastErr).
			Msg("Retrying device operation")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Classify(op, device, ctx.Err())
		case <-timer.C:
		}
	}
}

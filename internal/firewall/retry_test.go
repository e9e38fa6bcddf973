package firewall

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{Attempts: 3, Initial: time.Millisecond, Multiplier: 2}

	calls := 0
	err := Retry(context.Background(), cfg, "op", "fw1", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return WrapConnectionError("op", "fw1", errors.New("refused"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := RetryConfig{Attempts: 3, Initial: time.Millisecond, Multiplier: 2}

	calls := 0
	err := Retry(context.Background(), cfg, "op", "fw1", func(ctx context.Context) error {
		calls++
		return WrapAuthError("op", "fw1", errors.New("bad key"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on auth errors)", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{Attempts: 2, Initial: time.Millisecond, Multiplier: 2}

	calls := 0
	err := Retry(context.Background(), cfg, "op", "fw1", func(ctx context.Context) error {
		calls++
		return WrapConnectionError("op", "fw1", errors.New("refused"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	cfg := RetryConfig{Attempts: 3, Initial: time.Hour, Multiplier: 2}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Retry(ctx, cfg, "op", "fw1", func(ctx context.Context) error {
		return WrapConnectionError("op", "fw1", errors.New("refused"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Retry blocked %v after cancellation", elapsed)
	}
}

func TestNextDelaySchedule(t *testing.T) {
	cfg := DefaultRetry
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := cfg.nextDelay(i); got != w {
			t.Errorf("nextDelay(%d) = %v, want %v", i, got, w)
		}
	}

	capped := RetryConfig{Attempts: 5, Initial: 2 * time.Second, Multiplier: 2, Max: 5 * time.Second}
	if got := capped.nextDelay(3); got != 5*time.Second {
		t.Errorf("capped delay = %v, want 5s", got)
	}
}

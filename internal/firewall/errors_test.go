package firewall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestDeviceErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    *DeviceError
		target error
		want   bool
	}{
		{"timeout matches ErrTimeout", NewDeviceError(ErrorTypeTimeout, "op", "fw1", errors.New("deadline")), ErrTimeout, true},
		{"connection matches ErrConnectionFailed", NewDeviceError(ErrorTypeConnection, "op", "fw1", errors.New("refused")), ErrConnectionFailed, true},
		{"auth matches ErrUnauthorized", NewDeviceError(ErrorTypeAuth, "op", "fw1", errors.New("bad key")), ErrUnauthorized, true},
		{"not_found matches ErrNotFound", NewDeviceError(ErrorTypeNotFound, "op", "fw1", errors.New("missing")), ErrNotFound, true},
		{"timeout does not match ErrNotFound", NewDeviceError(ErrorTypeTimeout, "op", "fw1", errors.New("deadline")), ErrNotFound, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := errors.Is(tc.err, tc.target); got != tc.want {
				t.Errorf("errors.Is = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDeviceErrorRetryable(t *testing.T) {
	if !NewDeviceError(ErrorTypeConnection, "op", "fw1", errors.New("x")).Retryable {
		t.Error("connection errors should be retryable")
	}
	if !NewDeviceError(ErrorTypeTimeout, "op", "fw1", errors.New("x")).Retryable {
		t.Error("timeout errors should be retryable")
	}
	if NewDeviceError(ErrorTypeAuth, "op", "fw1", errors.New("x")).Retryable {
		t.Error("auth errors should not be retryable")
	}
	if NewDeviceError(ErrorTypeProtocol, "op", "fw1", errors.New("x")).Retryable {
		t.Error("protocol errors should not be retryable")
	}
}

func TestWithStatusCode(t *testing.T) {
	if !NewDeviceError(ErrorTypeAPI, "op", "fw1", errors.New("x")).WithStatusCode(503).Retryable {
		t.Error("503 should be retryable")
	}
	if !NewDeviceError(ErrorTypeAPI, "op", "fw1", errors.New("x")).WithStatusCode(429).Retryable {
		t.Error("429 should be retryable")
	}
	if NewDeviceError(ErrorTypeAPI, "op", "fw1", errors.New("x")).WithStatusCode(400).Retryable {
		t.Error("400 should not be retryable")
	}
}

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	var devErr *DeviceError

	err := Classify("op", "fw1", context.DeadlineExceeded)
	if !errors.As(err, &devErr) || devErr.Type != ErrorTypeTimeout {
		t.Fatalf("deadline should classify as timeout, got %v", err)
	}

	var netErr net.Error = &fakeNetError{timeout: false}
	err = Classify("op", "fw1", fmt.Errorf("dial: %w", netErr))
	if !errors.As(err, &devErr) || devErr.Type != ErrorTypeConnection {
		t.Fatalf("net error should classify as connection, got %v", err)
	}

	err = Classify("op", "fw1", &fakeNetError{timeout: true})
	if !errors.As(err, &devErr) || devErr.Type != ErrorTypeTimeout {
		t.Fatalf("net timeout should classify as timeout, got %v", err)
	}

	original := WrapAuthError("op", "fw1", errors.New("bad key"))
	if got := Classify("op2", "fw2", original); got != original {
		t.Error("existing DeviceError should pass through unchanged")
	}

	if Classify("op", "fw1", nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestDeviceErrorMessage(t *testing.T) {
	err := NewDeviceError(ErrorTypeConnection, "arp_table", "fw-branch-3", errors.New("connection refused"))
	msg := err.Error()
	if msg != "arp_table failed on fw-branch-3: connection refused" {
		t.Errorf("unexpected message %q", msg)
	}
}

package firewall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConnectionFailed = errors.New("connection failed")
	ErrInternalError    = errors.New("internal error")
)

// ErrorType represents the category of a device error.
type ErrorType string

const (
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// DeviceError is a structured error for device operations.
type DeviceError struct {
	Type       ErrorType
	Op         string // operation that failed (e.g. "system_info", "arp_table")
	Device     string // device name or address where the error occurred
	Err        error  // underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *DeviceError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is matching against the base error types.
func (e *DeviceError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrUnauthorized, ErrForbidden:
		return e.Type == ErrorTypeAuth
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	}

	return errors.Is(e.Err, target)
}

// NewDeviceError creates a new DeviceError.
func NewDeviceError(errorType ErrorType, op, device string, err error) *DeviceError {
	return &DeviceError{
		Type:      errorType,
		Op:        op,
		Device:    device,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType, err),
	}
}

// WithStatusCode adds an HTTP status code and re-derives retryability.
func (e *DeviceError) WithStatusCode(code int) *DeviceError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// isRetryable determines if an error category should be retried.
func isRetryable(errorType ErrorType, err error) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeAuth, ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeProtocol:
		return false
	default: // ErrorTypeInternal, ErrorTypeAPI
		if err != nil {
			return !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrForbidden)
		}
		return true
	}
}

// Helper functions

// WrapConnectionError wraps a connection error with context.
func WrapConnectionError(op, device string, err error) error {
	return NewDeviceError(ErrorTypeConnection, op, device, err)
}

// WrapAuthError wraps an authentication error with context.
func WrapAuthError(op, device string, err error) error {
	return NewDeviceError(ErrorTypeAuth, op, device, err)
}

// WrapProtocolError wraps a response-parse error with context. Parse
// failures are never retried; the payload will not change on a resend.
func WrapProtocolError(op, device string, err error) error {
	return NewDeviceError(ErrorTypeProtocol, op, device, err)
}

// WrapAPIError wraps an API error with context.
func WrapAPIError(op, device string, err error, statusCode int) error {
	return NewDeviceError(ErrorTypeAPI, op, device, err).WithStatusCode(statusCode)
}

// Classify converts an arbitrary transport error into a DeviceError,
// preserving an existing one untouched.
func Classify(op, device string, err error) error {
	if err == nil {
		return nil
	}

	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewDeviceError(ErrorTypeTimeout, op, device, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewDeviceError(ErrorTypeInternal, op, device, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewDeviceError(ErrorTypeTimeout, op, device, err)
		}
		return NewDeviceError(ErrorTypeConnection, op, device, err)
	}

	return NewDeviceError(ErrorTypeInternal, op, device, err)
}

// IsRetryableError checks if an error should be retried.
func IsRetryableError(err error) bool {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Retryable
	}

	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var devErr *DeviceError
	if errors.As(err, &devErr) {
		if devErr.Type == ErrorTypeAuth {
			return true
		}
		if devErr.StatusCode == 401 || devErr.StatusCode == 403 {
			return true
		}
	}

	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) {
		return true
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "invalid credential") ||
		strings.Contains(errMsg, "authentication failed") ||
		strings.Contains(errMsg, "401") ||
		strings.Contains(errMsg, "403") ||
		strings.Contains(errMsg, "unauthorized") ||
		strings.Contains(errMsg, "forbidden")
}

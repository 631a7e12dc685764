package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrVerificationTimeout marks a bounded verification wait that expired
// without an inbound code.
var ErrVerificationTimeout = errors.New("verification code did not arrive in time")

// BackendError classifies capability backend call failures as
// transient/permanent.
type BackendError struct {
	Operation  string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *BackendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "backend error")

	if op := strings.TrimSpace(e.Operation); op != "" {
		parts = append(parts, op)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error is worth retrying on a new unit.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

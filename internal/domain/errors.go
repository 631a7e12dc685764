package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Structural errors surfaced by coordinator public calls.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrBatchStarted  = errors.New("batch already started")
	ErrBatchTerminal = errors.New("batch is terminal")
)

// FailureKind classifies why a unit became terminal without completing.
type FailureKind string

const (
	FailureResourceAcquisition FailureKind = "RESOURCE_ACQUISITION"
	FailureVerificationTimeout FailureKind = "VERIFICATION_TIMEOUT"
	FailureBackendOperation    FailureKind = "BACKEND_OPERATION"
	FailureCanceled            FailureKind = "CANCELED"
)

func (k FailureKind) String() string { return string(k) }

// UnitError records where and why a unit failed. It is stored on the unit
// and surfaced through snapshots; it never propagates out of the
// coordinator's public calls.
type UnitError struct {
	Stage  Stage
	Kind   FailureKind
	Reason string
	Cause  error
}

func (e *UnitError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("unit failed at %s", e.Stage))
	if e.Kind != "" {
		parts = append(parts, string(e.Kind))
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		parts = append(parts, reason)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *UnitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

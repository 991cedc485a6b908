// Package apperrors holds the error kinds returned by ledger and payout operations.
// Every typed error unwraps to one of the sentinels so callers can use errors.Is.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation                 = errors.New("validation failed")
	ErrInsufficientBalance        = errors.New("insufficient balance")
	ErrConflictingInFlightRequest = errors.New("a payout request is already pending or approved")
	ErrInvalidStateTransition     = errors.New("invalid state transition")
	ErrExternalTransportFailure   = errors.New("external transport failure")
	ErrDriftDetected              = errors.New("balance drift detected")
	ErrPermissionDenied           = errors.New("permission denied")
	ErrNotFound                   = errors.New("not found")
	ErrConcurrentModification     = errors.New("concurrent modification")
)

// ValidationError reports a rejected input field
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidStateTransitionError carries the state the record was actually in
type InvalidStateTransitionError struct {
	Current string
	Target  string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.Current, e.Target)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// TransportError is returned once transfer retries are exhausted
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transfer failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrExternalTransportFailure, e.Err} }

// DriftError describes a cached balance that disagreed with recomputation
type DriftError struct {
	UserID              uuid.UUID
	Cached              decimal.Decimal
	Recomputed          decimal.Decimal
	CachedAvailable     decimal.Decimal
	RecomputedAvailable decimal.Decimal
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("user %s: cached total %s available %s, recomputed total %s available %s",
		e.UserID, e.Cached.StringFixed(2), e.CachedAvailable.StringFixed(2),
		e.Recomputed.StringFixed(2), e.RecomputedAvailable.StringFixed(2))
}

func (e *DriftError) Unwrap() error { return ErrDriftDetected }

// Delta is recomputed minus cached
func (e *DriftError) Delta() decimal.Decimal {
	return e.Recomputed.Sub(e.Cached)
}

package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", NewValidationError("amount", "must be positive"), ErrValidation},
		{"state", &InvalidStateTransitionError{Current: "pending", Target: "paid"}, ErrInvalidStateTransition},
		{"transport", &TransportError{Attempts: 3, Err: cause}, ErrExternalTransportFailure},
		{"drift", &DriftError{UserID: uuid.New()}, ErrDriftDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("operation: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestTransportErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransportError{Attempts: 3, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempt(s)")
}

func TestInvalidStateTransitionCarriesCurrentState(t *testing.T) {
	err := fmt.Errorf("mark paid: %w", &InvalidStateTransitionError{Current: "pending", Target: "paid"})

	var stateErr *InvalidStateTransitionError
	if assert.ErrorAs(t, err, &stateErr) {
		assert.Equal(t, "pending", stateErr.Current)
	}
}

func TestDriftDelta(t *testing.T) {
	err := &DriftError{Cached: decimal.NewFromInt(100), Recomputed: decimal.RequireFromString("63.50")}
	assert.Equal(t, "-36.50", err.Delta().StringFixed(2))
}

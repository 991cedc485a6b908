// Package transport talks to the external payment processor that actually moves payout funds.
package transport

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferRequest asks the processor to move Amount to an external account.
// The processor applies a given IdempotencyKey at most once.
type TransferRequest struct {
	DestinationAccountID string
	Amount               decimal.Decimal
	IdempotencyKey       string
	Reference            string
}

// Transport is the payout processor as seen by the ledger
type Transport interface {
	Transfer(ctx context.Context, req TransferRequest) (transferID string, err error)
	HasPayoutAccount(ctx context.Context, userID uuid.UUID) (bool, error)
	// LookupTransfer reports whether the processor holds a transfer for the key.
	LookupTransfer(ctx context.Context, idempotencyKey string) (transferID string, found bool, err error)
}

// PermanentError marks a failure that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the retry loop gives up immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked permanent
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

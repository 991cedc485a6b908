package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PayoutStatus is the state of a payout request
type PayoutStatus string

// Payout request states
const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusApproved PayoutStatus = "approved"
	PayoutStatusPaid     PayoutStatus = "paid"
	PayoutStatusRejected PayoutStatus = "rejected"
)

// InFlightPayoutStatuses are the non-terminal states that hold a reservation
var InFlightPayoutStatuses = []PayoutStatus{PayoutStatusPending, PayoutStatusApproved}

// IsTerminal reports whether no further transition is possible
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusPaid || s == PayoutStatusRejected
}

// PayoutRequest is a user's request to withdraw part of their available balance
type PayoutRequest struct {
	Base
	UserID               uuid.UUID       `gorm:"type:uuid;index;not null" json:"user_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Method               string          `gorm:"type:varchar(50);not null" json:"method"`
	DestinationAccountID string          `gorm:"type:varchar(100);not null" json:"destination_account_id"`
	Status               PayoutStatus    `gorm:"type:varchar(20);not null;index" json:"status"`
	AdminNotes           string          `gorm:"type:text" json:"admin_notes"`
	IdempotencyKey       string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"-"`
	TransferID           string          `gorm:"type:varchar(100)" json:"transfer_id,omitempty"`
	TransferAttempts     int             `gorm:"not null" json:"transfer_attempts"`
	LastTransferError    string          `gorm:"type:text" json:"last_transfer_error,omitempty"`
	NeedsAttention       bool            `gorm:"not null;index" json:"needs_attention"`
	ReviewedBy           *uuid.UUID      `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	RequestedAt          time.Time       `gorm:"not null" json:"requested_at"`
	ApprovedAt           *time.Time      `json:"approved_at,omitempty"`
	RejectedAt           *time.Time      `json:"rejected_at,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
}

// Payout transaction values
const (
	PayoutTransactionType      = "payout"
	PayoutTransactionCompleted = "completed"
	PlatformIdentity           = "platform"
)

// PayoutTransaction is the immutable record of money moved for a paid request.
// The unique payout_request_id makes a second record for the same request impossible.
type PayoutTransaction struct {
	Base
	PayoutRequestID uuid.UUID         `gorm:"type:uuid;uniqueIndex;not null" json:"payout_request_id"`
	UserID          uuid.UUID         `gorm:"type:uuid;index;not null" json:"user_id"`
	Type            string            `gorm:"type:varchar(30);not null" json:"type"`
	FromIdentity    string            `gorm:"type:varchar(100);not null" json:"from_identity"`
	ToIdentity      string            `gorm:"type:varchar(100);not null" json:"to_identity"`
	Amount          decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status          string            `gorm:"type:varchar(20);not null" json:"status"`
	Reference       string            `gorm:"type:varchar(50);uniqueIndex;not null" json:"reference"`
	TransferID      string            `gorm:"type:varchar(100)" json:"transfer_id"`
	Metadata        datatypes.JSONMap `json:"metadata"`
}

// LedgerModels lists every table owned by the ledger, in migration order
func LedgerModels() []interface{} {
	return []interface{}{
		&Referral{},
		&Tip{},
		&Subscription{},
		&AffiliateEarning{},
		&ShopSale{},
		&BrandSpend{},
		&Balance{},
		&BonusRule{},
		&BonusAward{},
		&PayoutRequest{},
		&PayoutTransaction{},
	}
}

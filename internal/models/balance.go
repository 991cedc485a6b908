package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is the cached, derived ledger state for one user. It is written only
// by the aggregator with a version check and can always be rebuilt from the
// revenue, award, payout request and payout transaction tables.
type Balance struct {
	UserID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"user_id"`
	TotalEarnings    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_earnings"`
	TotalPaidOut     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_paid_out"`
	ReservedAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"reserved_amount"`
	AvailableBalance decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"available_balance"`
	PayoutCapable    bool            `gorm:"not null" json:"payout_capable"`
	Version          int64           `gorm:"not null;default:0" json:"version"`
	LastSyncedAt     *time.Time      `json:"last_synced_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName overrides the default table name
func (Balance) TableName() string {
	return "user_balances"
}

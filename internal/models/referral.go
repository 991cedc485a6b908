package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Referral statuses
const (
	ReferralStatusPending   = "pending"
	ReferralStatusCompleted = "completed"
)

// Referral is a commission earned by a referrer when a referred user signs up.
// The commission is owed from creation; completion only records conversion.
type Referral struct {
	Base
	ReferrerID     uuid.UUID       `gorm:"type:uuid;index;not null" json:"referrer_id"`
	ReferredUserID uuid.UUID       `gorm:"type:uuid;not null" json:"referred_user_id"`
	Commission     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commission"`
	Status         string          `gorm:"type:varchar(20);not null;index" json:"status"`
	Origin         string          `gorm:"type:varchar(100);index" json:"origin"`
	CompletedAt    *time.Time      `json:"completed_at"`
}

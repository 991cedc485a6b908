package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription statuses
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Subscription is a fan's paid subscription to a creator. Only active
// subscriptions contribute to the creator's earnings.
type Subscription struct {
	Base
	CreatorID        uuid.UUID       `gorm:"type:uuid;index;not null" json:"creator_id"`
	SubscriberID     uuid.UUID       `gorm:"type:uuid;not null" json:"subscriber_id"`
	Price            decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"price"`
	Status           string          `gorm:"type:varchar(20);not null;index" json:"status"`
	Origin           string          `gorm:"type:varchar(100);index" json:"origin"`
	CurrentPeriodEnd *time.Time      `json:"current_period_end"`
}

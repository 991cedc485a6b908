package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stream names a revenue source
type Stream string

// Revenue streams
const (
	StreamReferral     Stream = "referral"
	StreamTip          Stream = "tip"
	StreamSubscription Stream = "subscription"
	StreamAffiliate    Stream = "affiliate"
	StreamShop         Stream = "shop"
	StreamBrand        Stream = "brand"
)

// Streams lists every revenue stream in aggregation order
var Streams = []Stream{StreamReferral, StreamTip, StreamSubscription, StreamAffiliate, StreamShop, StreamBrand}

// Valid reports whether s is a known stream
func (s Stream) Valid() bool {
	for _, known := range Streams {
		if s == known {
			return true
		}
	}
	return false
}

// Tip statuses. An empty status is treated as completed.
const (
	TipStatusPending   = "pending"
	TipStatusCompleted = "completed"
	TipStatusFailed    = "failed"
)

// Tip is a one-off payment from a fan to a creator
type Tip struct {
	Base
	CreatorID uuid.UUID       `gorm:"type:uuid;index;not null" json:"creator_id"`
	TipperID  uuid.UUID       `gorm:"type:uuid;not null" json:"tipper_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status    string          `gorm:"type:varchar(20)" json:"status"`
	Message   string          `gorm:"type:text" json:"message"`
	Origin    string          `gorm:"type:varchar(100);index" json:"origin"`
}

// AffiliateEarning is commission credited for a sale through an affiliate link
type AffiliateEarning struct {
	Base
	UserID uuid.UUID       `gorm:"type:uuid;index;not null" json:"user_id"`
	LinkID string          `gorm:"type:varchar(100);not null" json:"link_id"`
	Amount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status string          `gorm:"type:varchar(20)" json:"status"`
	Origin string          `gorm:"type:varchar(100);index" json:"origin"`
}

// ShopSale is the seller's share of a completed shop order
type ShopSale struct {
	Base
	SellerID uuid.UUID       `gorm:"type:uuid;index;not null" json:"seller_id"`
	OrderID  string          `gorm:"type:varchar(100);not null" json:"order_id"`
	Amount   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status   string          `gorm:"type:varchar(20)" json:"status"`
	Origin   string          `gorm:"type:varchar(100);index" json:"origin"`
}

// BrandSpend is money a brand paid a creator for a campaign
type BrandSpend struct {
	Base
	CreatorID  uuid.UUID       `gorm:"type:uuid;index;not null" json:"creator_id"`
	BrandID    string          `gorm:"type:varchar(100);not null" json:"brand_id"`
	CampaignID string          `gorm:"type:varchar(100)" json:"campaign_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status     string          `gorm:"type:varchar(20)" json:"status"`
	Origin     string          `gorm:"type:varchar(100);index" json:"origin"`
}

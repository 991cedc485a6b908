package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BonusRule is an administrator configured referral bonus tier
type BonusRule struct {
	Base
	Code            string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"`
	Name            string          `gorm:"type:varchar(200);not null" json:"name"`
	Priority        int             `gorm:"not null;index" json:"priority"`
	MinReferrals    int             `gorm:"not null" json:"min_referrals"`
	MaxReferrals    *int            `json:"max_referrals"`
	BonusAmount     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"bonus_amount"`
	BonusPercentage decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"bonus_percentage"`
	IsRecurring     bool            `gorm:"not null" json:"is_recurring"`
	IsActive        bool            `gorm:"not null;index" json:"is_active"`
}

// Matches reports whether count falls inside the rule's referral range
func (r BonusRule) Matches(count int) bool {
	if count < r.MinReferrals {
		return false
	}
	return r.MaxReferrals == nil || count <= *r.MaxReferrals
}

// BonusAward is a write-once record of a bonus paid to a referrer. The
// (user_id, dedupe_key) index stops a rule from paying twice.
type BonusAward struct {
	Base
	UserID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_bonus_awards_user_dedupe" json:"user_id"`
	RuleID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"rule_id"`
	DedupeKey     string          `gorm:"type:varchar(150);not null;uniqueIndex:idx_bonus_awards_user_dedupe" json:"-"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	ReferralCount int             `gorm:"not null" json:"referral_count"`
	AwardedAt     time.Time       `gorm:"not null" json:"awarded_at"`
}

package testutil

import (
	"testing"
	"time"

	"github.com/creatorfund/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Money parses a decimal literal and panics on bad input
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustCreate(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("failed to create %T: %v", value, err)
	}
}

// CreateReferral inserts a referral commission for referrer
func CreateReferral(t *testing.T, db *gorm.DB, referrer uuid.UUID, commission, status string) *models.Referral {
	t.Helper()
	r := &models.Referral{
		ReferrerID:     referrer,
		ReferredUserID: uuid.New(),
		Commission:     Money(commission),
		Status:         status,
		Origin:         "referral-tracker",
	}
	mustCreate(t, db, r)
	return r
}

// CreateTip inserts a tip received by creator
func CreateTip(t *testing.T, db *gorm.DB, creator uuid.UUID, amount, status string) *models.Tip {
	t.Helper()
	tip := &models.Tip{CreatorID: creator, TipperID: uuid.New(), Amount: Money(amount), Status: status, Origin: "tips"}
	mustCreate(t, db, tip)
	return tip
}

// CreateSubscription inserts a subscription to creator
func CreateSubscription(t *testing.T, db *gorm.DB, creator uuid.UUID, price, status string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{CreatorID: creator, SubscriberID: uuid.New(), Price: Money(price), Status: status, Origin: "billing"}
	mustCreate(t, db, sub)
	return sub
}

// CreateAffiliateEarning inserts an affiliate earning for user
func CreateAffiliateEarning(t *testing.T, db *gorm.DB, user uuid.UUID, amount string) *models.AffiliateEarning {
	t.Helper()
	e := &models.AffiliateEarning{UserID: user, LinkID: "link-" + uuid.NewString()[:8], Amount: Money(amount), Origin: "affiliate"}
	mustCreate(t, db, e)
	return e
}

// CreateShopSale inserts a shop sale for seller with the given origin
func CreateShopSale(t *testing.T, db *gorm.DB, seller uuid.UUID, amount, origin string) *models.ShopSale {
	t.Helper()
	s := &models.ShopSale{SellerID: seller, OrderID: "order-" + uuid.NewString()[:8], Amount: Money(amount), Origin: origin}
	mustCreate(t, db, s)
	return s
}

// CreateBrandSpend inserts brand spend for creator
func CreateBrandSpend(t *testing.T, db *gorm.DB, creator uuid.UUID, amount string) *models.BrandSpend {
	t.Helper()
	b := &models.BrandSpend{CreatorID: creator, BrandID: "brand-" + uuid.NewString()[:8], Amount: Money(amount), Origin: "brands"}
	mustCreate(t, db, b)
	return b
}

// CreateBonusRule inserts an active bonus rule
func CreateBonusRule(t *testing.T, db *gorm.DB, rule models.BonusRule) *models.BonusRule {
	t.Helper()
	if rule.Code == "" {
		rule.Code = "rule-" + uuid.NewString()[:8]
	}
	if rule.Name == "" {
		rule.Name = rule.Code
	}
	if rule.BonusAmount.IsZero() {
		rule.BonusAmount = decimal.Zero
	}
	if rule.BonusPercentage.IsZero() {
		rule.BonusPercentage = decimal.Zero
	}
	mustCreate(t, db, &rule)
	return &rule
}

// CreatePayoutRequest inserts a payout request directly, bypassing the state machine
func CreatePayoutRequest(t *testing.T, db *gorm.DB, user uuid.UUID, amount string, status models.PayoutStatus) *models.PayoutRequest {
	t.Helper()
	req := &models.PayoutRequest{
		UserID:               user,
		Amount:               Money(amount),
		Method:               "bank_transfer",
		DestinationAccountID: "acct_" + user.String()[:8],
		Status:               status,
		IdempotencyKey:       "payout_" + uuid.NewString(),
		RequestedAt:          time.Now(),
	}
	mustCreate(t, db, req)
	return req
}

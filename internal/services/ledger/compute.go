package ledger

import (
	"context"
	"fmt"

	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/services/revenue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Breakdown is total earnings split by source
type Breakdown struct {
	Referrals     decimal.Decimal `json:"referrals"`
	Tips          decimal.Decimal `json:"tips"`
	Subscriptions decimal.Decimal `json:"subscriptions"`
	Affiliate     decimal.Decimal `json:"affiliate"`
	Shop          decimal.Decimal `json:"shop"`
	Brand         decimal.Decimal `json:"brand"`
	Bonuses       decimal.Decimal `json:"bonuses"`
}

// Total sums every source
func (b Breakdown) Total() decimal.Decimal {
	return decimal.Sum(b.Referrals, b.Tips, b.Subscriptions, b.Affiliate, b.Shop, b.Brand, b.Bonuses)
}

// Computation is a balance derived from source records only
type Computation struct {
	UserID        uuid.UUID       `json:"user_id"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	TotalPaidOut  decimal.Decimal `json:"total_paid_out"`
	Reserved      decimal.Decimal `json:"reserved_amount"`
	Available     decimal.Decimal `json:"available_balance"`
	Breakdown     Breakdown       `json:"breakdown"`
	// Shortfall is how far below zero the available balance was before clamping.
	Shortfall decimal.Decimal `json:"shortfall"`
}

// Clamped reports whether the available balance was negative before clamping
func (c *Computation) Clamped() bool {
	return c.Shortfall.IsPositive()
}

// compute derives the balance for userID using db, which may be an open transaction
func (a *Aggregator) compute(ctx context.Context, db *gorm.DB, userID uuid.UUID) (*Computation, error) {
	reader := a.readers(db)
	var b Breakdown

	referrals, err := reader.ListReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Commission is earned when the referral is created, so every status counts.
	b.Referrals = sumEntries(referrals, nil)

	tips, err := reader.ListTips(ctx, userID)
	if err != nil {
		return nil, err
	}
	b.Tips = sumEntries(tips, func(e revenue.Entry) bool {
		return e.Status == "" || e.Status == models.TipStatusCompleted
	})

	subs, err := reader.ListActiveSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	b.Subscriptions = decimal.Zero
	for _, sub := range subs {
		b.Subscriptions = b.Subscriptions.Add(a.CreatorShareOf(sub.Amount))
	}

	affiliate, err := reader.ListAffiliateEarnings(ctx, userID)
	if err != nil {
		return nil, err
	}
	b.Affiliate = sumEntries(affiliate, nil)

	shopAndBrand, err := reader.ListShopAndBrandTotals(ctx, userID)
	if err != nil {
		return nil, err
	}
	b.Shop = sumEntries(shopAndBrand, func(e revenue.Entry) bool { return e.Stream == models.StreamShop })
	b.Brand = sumEntries(shopAndBrand, func(e revenue.Entry) bool { return e.Stream == models.StreamBrand })

	if b.Bonuses, err = sumColumn(ctx, db, &models.BonusAward{}, "user_id = ?", userID); err != nil {
		return nil, fmt.Errorf("sum bonus awards: %w", err)
	}

	paidOut, err := sumColumn(ctx, db, &models.PayoutTransaction{}, "user_id = ? AND status = ?", userID, models.PayoutTransactionCompleted)
	if err != nil {
		return nil, fmt.Errorf("sum payout transactions: %w", err)
	}

	reserved, err := sumColumn(ctx, db, &models.PayoutRequest{}, "user_id = ? AND status IN ?", userID, models.InFlightPayoutStatuses)
	if err != nil {
		return nil, fmt.Errorf("sum in-flight payout requests: %w", err)
	}

	total := b.Total()
	available := total.Sub(paidOut).Sub(reserved)
	shortfall := decimal.Zero
	if available.IsNegative() {
		shortfall = available.Neg()
		available = decimal.Zero
	}

	return &Computation{
		UserID:        userID,
		TotalEarnings: total,
		TotalPaidOut:  paidOut,
		Reserved:      reserved,
		Available:     available,
		Breakdown:     b,
		Shortfall:     shortfall,
	}, nil
}

// CreatorShareOf returns the creator's cut of a subscription price, rounded to cents
func (a *Aggregator) CreatorShareOf(price decimal.Decimal) decimal.Decimal {
	return price.Mul(a.cfg.CreatorShare).Round(2)
}

func sumEntries(entries []revenue.Entry, include func(revenue.Entry) bool) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if include == nil || include(e) {
			total = total.Add(e.Amount)
		}
	}
	return total
}

type amountRow struct {
	Amount decimal.Decimal
}

// sumColumn adds up the amount column in Go so SQLite and Postgres agree to the cent
func sumColumn(ctx context.Context, db *gorm.DB, model interface{}, query string, args ...interface{}) (decimal.Decimal, error) {
	var rows []amountRow
	if err := db.WithContext(ctx).Model(model).Select("amount").Where(query, args...).Scan(&rows).Error; err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Amount)
	}
	return total, nil
}

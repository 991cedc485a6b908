package revenue

import (
	"context"
	"fmt"
	"time"

	"github.com/creatorfund/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Entry is one revenue event as seen by the ledger
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	Stream    models.Stream   `json:"stream"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Origin    string          `json:"origin,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Reader is read-only access to the revenue streams owned by the order,
// subscription and referral modules.
type Reader interface {
	ListReferrals(ctx context.Context, userID uuid.UUID) ([]Entry, error)
	ListTips(ctx context.Context, userID uuid.UUID) ([]Entry, error)
	ListActiveSubscriptions(ctx context.Context, userID uuid.UUID) ([]Entry, error)
	ListAffiliateEarnings(ctx context.Context, userID uuid.UUID) ([]Entry, error)
	ListShopAndBrandTotals(ctx context.Context, userID uuid.UUID) ([]Entry, error)
}

// Factory binds a Reader to a connection or an open transaction
type Factory func(db *gorm.DB) Reader

// GormReader reads revenue events from the shared database
type GormReader struct {
	db *gorm.DB
}

// NewGormReader creates a GormReader
func NewGormReader(db *gorm.DB) *GormReader {
	return &GormReader{db: db}
}

// ForDB is the default Factory
func ForDB(db *gorm.DB) Reader {
	return NewGormReader(db)
}

// ListReferrals returns every referral commission where the user is the referrer
func (r *GormReader) ListReferrals(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	var rows []models.Referral
	if err := r.ordered(ctx).Where("referrer_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{ID: row.ID, Stream: models.StreamReferral, Amount: row.Commission, Status: row.Status, Origin: row.Origin, CreatedAt: row.CreatedAt})
	}
	return entries, nil
}

// ListTips returns all tips received by the user, whatever their status
func (r *GormReader) ListTips(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	var rows []models.Tip
	if err := r.ordered(ctx).Where("creator_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tips: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{ID: row.ID, Stream: models.StreamTip, Amount: row.Amount, Status: row.Status, Origin: row.Origin, CreatedAt: row.CreatedAt})
	}
	return entries, nil
}

// ListActiveSubscriptions returns the user's active subscriptions at their list price
func (r *GormReader) ListActiveSubscriptions(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	var rows []models.Subscription
	err := r.ordered(ctx).
		Where("creator_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{ID: row.ID, Stream: models.StreamSubscription, Amount: row.Price, Status: row.Status, Origin: row.Origin, CreatedAt: row.CreatedAt})
	}
	return entries, nil
}

// ListAffiliateEarnings returns affiliate link earnings credited to the user
func (r *GormReader) ListAffiliateEarnings(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	var rows []models.AffiliateEarning
	if err := r.ordered(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list affiliate earnings: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{ID: row.ID, Stream: models.StreamAffiliate, Amount: row.Amount, Status: row.Status, Origin: row.Origin, CreatedAt: row.CreatedAt})
	}
	return entries, nil
}

// ListShopAndBrandTotals returns shop sales followed by brand spend for the user
func (r *GormReader) ListShopAndBrandTotals(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	var sales []models.ShopSale
	if err := r.ordered(ctx).Where("seller_id = ?", userID).Find(&sales).Error; err != nil {
		return nil, fmt.Errorf("list shop sales: %w", err)
	}

	var spends []models.BrandSpend
	if err := r.ordered(ctx).Where("creator_id = ?", userID).Find(&spends).Error; err != nil {
		return nil, fmt.Errorf("list brand spend: %w", err)
	}

	entries := make([]Entry, 0, len(sales)+len(spends))
	for _, row := range sales {
		entries = append(entries, Entry{ID: row.ID, Stream: models.StreamShop, Amount: row.Amount, Status: row.Status, Origin: row.Origin, CreatedAt: row.CreatedAt})
	}
	for _, row := range spends {
		entries = append(entries, Entry{ID: row.ID, Stream: models.StreamBrand, Amount: row.Amount, Status: row.Status, Origin: row.Origin, CreatedAt: row.CreatedAt})
	}
	return entries, nil
}

// ReferralCount counts referrals where the user is the referrer
func (r *GormReader) ReferralCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Referral{}).Where("referrer_id = ?", userID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return int(count), nil
}

// ListReferrers returns every user that has referred at least one other user
func (r *GormReader) ListReferrers(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Referral{}).Distinct().Order("referrer_id").Pluck("referrer_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list referrers: %w", err)
	}
	return ids, nil
}

// ListBeneficiaries returns every user that has a balance row or is owed revenue
// on any stream, sorted and without duplicates.
func (r *GormReader) ListBeneficiaries(ctx context.Context) ([]uuid.UUID, error) {
	sources := []struct {
		model  interface{}
		column string
	}{
		{&models.Balance{}, "user_id"},
		{&models.Referral{}, "referrer_id"},
		{&models.Tip{}, "creator_id"},
		{&models.Subscription{}, "creator_id"},
		{&models.AffiliateEarning{}, "user_id"},
		{&models.ShopSale{}, "seller_id"},
		{&models.BrandSpend{}, "creator_id"},
	}

	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, src := range sources {
		var ids []uuid.UUID
		if err := r.db.WithContext(ctx).Model(src.model).Distinct().Pluck(src.column, &ids).Error; err != nil {
			return nil, fmt.Errorf("list beneficiaries from %T: %w", src.model, err)
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	SortIDs(out)
	return out, nil
}

func (r *GormReader) ordered(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC")
}

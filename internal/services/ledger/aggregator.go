package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/lock"
	"github.com/creatorfund/backend/internal/metrics"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/services/revenue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sync triggers, used for logs and metrics
const (
	TriggerUser      = "user"
	TriggerBonus     = "bonus"
	TriggerPayout    = "payout"
	TriggerReconcile = "reconcile"
	TriggerPurge     = "purge"
	TriggerBatch     = "batch"
)

const maxApplyAttempts = 3

// Config holds the aggregation rules
type Config struct {
	CreatorShare   decimal.Decimal
	DriftTolerance decimal.Decimal
}

// SyncResult is the outcome of writing a recomputed balance
type SyncResult struct {
	Balance     *models.Balance
	Computation *Computation
	// Drift is set when a previously synced cache disagreed with recomputation beyond tolerance.
	Drift             *apperrors.DriftError
	PromotedReferrals int64
}

// Aggregator derives user balances from source records and is the only writer
// of the cached balance row.
type Aggregator struct {
	db      *gorm.DB
	locker  lock.Locker
	readers revenue.Factory
	cfg     Config
	logger  logrus.FieldLogger
	now     func() time.Time
}

// Option customises an Aggregator
type Option func(*Aggregator)

// WithReaderFactory replaces the revenue reader
func WithReaderFactory(f revenue.Factory) Option {
	return func(a *Aggregator) { a.readers = f }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator
func NewAggregator(db *gorm.DB, locker lock.Locker, cfg Config, logger logrus.FieldLogger, opts ...Option) *Aggregator {
	a := &Aggregator{
		db:      db,
		locker:  locker,
		readers: revenue.ForDB,
		cfg:     cfg,
		logger:  logger.WithField("component", "ledger"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LockKey is the serialization key shared by every operation that touches a user's balance
func LockKey(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// Compute derives the balance from source records without writing anything
func (a *Aggregator) Compute(ctx context.Context, userID uuid.UUID) (*Computation, error) {
	return a.compute(ctx, a.db, userID)
}

// GetBalance returns the cached balance. A user that was never synced gets a zero balance.
func (a *Aggregator) GetBalance(ctx context.Context, userID uuid.UUID) (*models.Balance, error) {
	var balance models.Balance
	err := a.db.WithContext(ctx).Where("user_id = ?", userID).Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptyBalance(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &balance, nil
}

// Sync recomputes and stores the user's balance under the per-user lock
func (a *Aggregator) Sync(ctx context.Context, userID uuid.UUID, trigger string) (result *SyncResult, err error) {
	started := time.Now()
	defer func() { metrics.RecordBalanceSync(trigger, started, err) }()

	unlock, err := a.locker.Lock(ctx, LockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = a.SyncTx(ctx, tx, userID, trigger)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SyncTx recomputes and stores the balance inside tx. The caller must hold the
// user's lock; it lets other components commit their own writes and the
// resulting balance atomically.
func (a *Aggregator) SyncTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, trigger string) (*SyncResult, error) {
	log := a.logger.WithFields(logrus.Fields{"user_id": userID, "trigger": trigger})

	promoted, err := a.promoteReferrals(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		current, err := a.loadForUpdate(ctx, tx, userID)
		if err != nil {
			return nil, err
		}

		comp, err := a.compute(ctx, tx, userID)
		if err != nil {
			return nil, fmt.Errorf("compute balance: %w", err)
		}

		updated, err := a.apply(ctx, tx, current, comp)
		if errors.Is(err, apperrors.ErrConcurrentModification) {
			log.WithField("attempt", attempt).Debug("balance version moved, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		if comp.Clamped() {
			metrics.RecordNegativeClamp()
			log.WithFields(logrus.Fields{
				"total_earnings": comp.TotalEarnings.StringFixed(2),
				"total_paid_out": comp.TotalPaidOut.StringFixed(2),
				"reserved":       comp.Reserved.StringFixed(2),
				"shortfall":      comp.Shortfall.StringFixed(2),
			}).Warn("available balance below zero, clamped")
		}

		result := &SyncResult{Balance: updated, Computation: comp, PromotedReferrals: promoted}
		if drift := a.detectDrift(current, comp); drift != nil {
			result.Drift = drift
			log.WithError(drift).Debug("cached balance differed from recomputation")
		}
		return result, nil
	}

	return nil, fmt.Errorf("store balance for %s: %w", userID, apperrors.ErrConcurrentModification)
}

// MarkPayoutCapable records the payout processor's view of the user's account
func (a *Aggregator) MarkPayoutCapable(ctx context.Context, tx *gorm.DB, userID uuid.UUID, capable bool) error {
	current, err := a.loadForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	if current.PayoutCapable == capable {
		return nil
	}

	res := tx.WithContext(ctx).Model(&models.Balance{}).
		Where("user_id = ? AND version = ?", userID, current.Version).
		Updates(map[string]interface{}{
			"payout_capable": capable,
			"version":        current.Version + 1,
			"updated_at":     a.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update payout capability: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrConcurrentModification
	}
	return nil
}

// promoteReferrals marks pending referrals with a commission as completed
func (a *Aggregator) promoteReferrals(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	now := a.now()
	res := tx.WithContext(ctx).Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ? AND commission > 0", userID, models.ReferralStatusPending).
		Updates(map[string]interface{}{
			"status":       models.ReferralStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("promote referrals: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// loadForUpdate locks the user's balance row, creating it first if needed
func (a *Aggregator) loadForUpdate(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.Balance, error) {
	var balance models.Balance
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).Take(&balance).Error
	if err == nil {
		return &balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load balance: %w", err)
	}

	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(emptyBalance(userID)).Error; err != nil {
		return nil, fmt.Errorf("create balance: %w", err)
	}

	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).Take(&balance).Error; err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return &balance, nil
}

// apply writes comp over current if nobody bumped the version in between
func (a *Aggregator) apply(ctx context.Context, tx *gorm.DB, current *models.Balance, comp *Computation) (*models.Balance, error) {
	now := a.now()
	res := tx.WithContext(ctx).Model(&models.Balance{}).
		Where("user_id = ? AND version = ?", current.UserID, current.Version).
		Updates(map[string]interface{}{
			"total_earnings":    comp.TotalEarnings,
			"total_paid_out":    comp.TotalPaidOut,
			"reserved_amount":   comp.Reserved,
			"available_balance": comp.Available,
			"version":           current.Version + 1,
			"last_synced_at":    now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("store balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrConcurrentModification
	}

	updated := *current
	updated.TotalEarnings = comp.TotalEarnings
	updated.TotalPaidOut = comp.TotalPaidOut
	updated.ReservedAmount = comp.Reserved
	updated.AvailableBalance = comp.Available
	updated.Version = current.Version + 1
	updated.LastSyncedAt = &now
	updated.UpdatedAt = now
	return &updated, nil
}

func (a *Aggregator) detectDrift(cached *models.Balance, comp *Computation) *apperrors.DriftError {
	// A row that has never been synced has nothing to drift from.
	if cached.LastSyncedAt == nil {
		return nil
	}

	totalDelta := comp.TotalEarnings.Sub(cached.TotalEarnings).Abs()
	availableDelta := comp.Available.Sub(cached.AvailableBalance).Abs()
	if totalDelta.LessThanOrEqual(a.cfg.DriftTolerance) && availableDelta.LessThanOrEqual(a.cfg.DriftTolerance) {
		return nil
	}

	return &apperrors.DriftError{
		UserID:              cached.UserID,
		Cached:              cached.TotalEarnings,
		Recomputed:          comp.TotalEarnings,
		CachedAvailable:     cached.AvailableBalance,
		RecomputedAvailable: comp.Available,
	}
}

func emptyBalance(userID uuid.UUID) *models.Balance {
	return &models.Balance{
		UserID:           userID,
		TotalEarnings:    decimal.Zero,
		TotalPaidOut:     decimal.Zero,
		ReservedAmount:   decimal.Zero,
		AvailableBalance: decimal.Zero,
	}
}

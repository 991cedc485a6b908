package bonus

import (
	"context"
	"fmt"
	"time"

	"github.com/creatorfund/backend/internal/lock"
	"github.com/creatorfund/backend/internal/metrics"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/services/ledger"
	"github.com/creatorfund/backend/internal/services/revenue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var hundred = decimal.NewFromInt(100)

// Award is a bonus written by one ApplyBonuses call
type Award struct {
	RuleID   uuid.UUID       `json:"rule_id"`
	RuleCode string          `json:"rule_code"`
	Amount   decimal.Decimal `json:"amount"`
}

// Result summarises one ApplyBonuses call
type Result struct {
	UserID        uuid.UUID       `json:"user_id"`
	ReferralCount int             `json:"referral_count"`
	TotalApplied  decimal.Decimal `json:"total_applied"`
	Awarded       []Award         `json:"awarded"`
}

// Engine evaluates referral bonus rules for referrers
type Engine struct {
	db         *gorm.DB
	locker     lock.Locker
	aggregator *ledger.Aggregator
	authz      security.Authorizer
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewEngine creates an Engine
func NewEngine(db *gorm.DB, locker lock.Locker, aggregator *ledger.Aggregator, authz security.Authorizer, logger logrus.FieldLogger) *Engine {
	return &Engine{
		db:         db,
		locker:     locker,
		aggregator: aggregator,
		authz:      authz,
		logger:     logger.WithField("component", "bonus"),
		now:        time.Now,
	}
}

// ApplyBonuses awards every matching rule the user has not been paid for yet.
// Rules are evaluated by descending priority; equal priorities keep the order
// the rules were stored in.
func (e *Engine) ApplyBonuses(ctx context.Context, userID uuid.UUID) (*Result, error) {
	unlock, err := e.locker.Lock(ctx, ledger.LockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	result := &Result{UserID: userID, TotalApplied: decimal.Zero, Awarded: []Award{}}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reader := revenue.NewGormReader(tx)

		count, err := reader.ReferralCount(ctx, userID)
		if err != nil {
			return err
		}
		result.ReferralCount = count

		referrals, err := reader.ListReferrals(ctx, userID)
		if err != nil {
			return err
		}
		commissions := decimal.Zero
		for _, r := range referrals {
			commissions = commissions.Add(r.Amount)
		}

		rules, err := activeRules(ctx, tx)
		if err != nil {
			return err
		}

		for _, rule := range rules {
			if !rule.Matches(count) {
				continue
			}

			amount := rule.BonusAmount.Add(commissions.Mul(rule.BonusPercentage).Div(hundred)).Round(2)
			if !amount.IsPositive() {
				continue
			}

			award := &models.BonusAward{
				UserID:        userID,
				RuleID:        rule.ID,
				DedupeKey:     DedupeKey(rule, count),
				Amount:        amount,
				ReferralCount: count,
				AwardedAt:     e.now(),
			}
			// An existing award for the same key means the rule already paid out.
			res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(award)
			if res.Error != nil {
				return fmt.Errorf("write award for rule %s: %w", rule.Code, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}

			result.Awarded = append(result.Awarded, Award{RuleID: rule.ID, RuleCode: rule.Code, Amount: amount})
			result.TotalApplied = result.TotalApplied.Add(amount)
		}

		if len(result.Awarded) == 0 {
			return nil
		}

		_, err = e.aggregator.SyncTx(ctx, tx, userID, ledger.TriggerBonus)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("apply bonuses for %s: %w", userID, err)
	}

	if n := len(result.Awarded); n > 0 {
		metrics.RecordBonusAwards(n)
		e.logger.WithFields(logrus.Fields{
			"user_id":        userID,
			"referral_count": result.ReferralCount,
			"awards":         n,
			"total_applied":  result.TotalApplied.StringFixed(2),
		}).Info("referral bonuses applied")
	}

	return result, nil
}

// ListAwards returns the user's bonus history, newest first
func (e *Engine) ListAwards(ctx context.Context, userID uuid.UUID) ([]models.BonusAward, error) {
	var awards []models.BonusAward
	err := e.db.WithContext(ctx).Where("user_id = ?", userID).Order("awarded_at DESC").Find(&awards).Error
	if err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	return awards, nil
}

// DedupeKey identifies an award slot. A one-off rule has a single slot per
// user; a recurring rule gets a new slot each time the referral count changes.
func DedupeKey(rule models.BonusRule, referralCount int) string {
	if rule.IsRecurring {
		return fmt.Sprintf("rule:%s:count:%d", rule.ID, referralCount)
	}
	return "rule:" + rule.ID.String()
}

func activeRules(ctx context.Context, tx *gorm.DB) ([]models.BonusRule, error) {
	var rules []models.BonusRule
	err := tx.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("load bonus rules: %w", err)
	}
	return rules, nil
}

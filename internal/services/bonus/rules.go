package bonus

import (
	"context"
	"errors"
	"fmt"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/security"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RuleInput describes a new bonus rule
type RuleInput struct {
	Name            string          `json:"name" binding:"required"`
	Priority        int             `json:"priority"`
	MinReferrals    int             `json:"min_referrals"`
	MaxReferrals    *int            `json:"max_referrals"`
	BonusAmount     decimal.Decimal `json:"bonus_amount"`
	BonusPercentage decimal.Decimal `json:"bonus_percentage"`
	IsRecurring     bool            `json:"is_recurring"`
}

// Validate checks the rule is coherent
func (in RuleInput) Validate() error {
	switch {
	case slug.Make(in.Name) == "":
		return apperrors.NewValidationError("name", "is required")
	case in.MinReferrals < 0:
		return apperrors.NewValidationError("min_referrals", "must not be negative")
	case in.MaxReferrals != nil && *in.MaxReferrals < in.MinReferrals:
		return apperrors.NewValidationError("max_referrals", "must not be below min_referrals")
	case in.BonusAmount.IsNegative():
		return apperrors.NewValidationError("bonus_amount", "must not be negative")
	case in.BonusPercentage.IsNegative() || in.BonusPercentage.GreaterThan(hundred):
		return apperrors.NewValidationError("bonus_percentage", "must be between 0 and 100")
	case !in.BonusAmount.IsPositive() && !in.BonusPercentage.IsPositive():
		return apperrors.NewValidationError("bonus_amount", "rule must pay a fixed amount or a percentage")
	}
	return nil
}

// CreateRule stores a new active rule. The code is derived from the name.
func (e *Engine) CreateRule(ctx context.Context, actor security.Principal, in RuleInput) (*models.BonusRule, error) {
	if err := e.authz.Require(actor, security.PermissionBonusManage); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	rule := &models.BonusRule{
		Code:            slug.Make(in.Name),
		Name:            in.Name,
		Priority:        in.Priority,
		MinReferrals:    in.MinReferrals,
		MaxReferrals:    in.MaxReferrals,
		BonusAmount:     in.BonusAmount.Round(2),
		BonusPercentage: in.BonusPercentage,
		IsRecurring:     in.IsRecurring,
		IsActive:        true,
	}

	if err := e.db.WithContext(ctx).Create(rule).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.NewValidationError("name", fmt.Sprintf("a rule with code %q already exists", rule.Code))
		}
		return nil, fmt.Errorf("create bonus rule: %w", err)
	}

	e.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "code": rule.Code, "actor": actor.UserID}).Info("bonus rule created")
	return rule, nil
}

// ListRules returns rules in evaluation order
func (e *Engine) ListRules(ctx context.Context, activeOnly bool) ([]models.BonusRule, error) {
	if activeOnly {
		return activeRules(ctx, e.db)
	}

	var rules []models.BonusRule
	err := e.db.WithContext(ctx).Order("priority DESC").Order("created_at ASC").Order("id ASC").Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("list bonus rules: %w", err)
	}
	return rules, nil
}

// SetRuleActive enables or disables a rule. Existing awards are untouched.
func (e *Engine) SetRuleActive(ctx context.Context, actor security.Principal, ruleID uuid.UUID, active bool) (*models.BonusRule, error) {
	if err := e.authz.Require(actor, security.PermissionBonusManage); err != nil {
		return nil, err
	}

	var rule models.BonusRule
	if err := e.db.WithContext(ctx).First(&rule, "id = ?", ruleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("bonus rule %s: %w", ruleID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load bonus rule: %w", err)
	}

	if err := e.db.WithContext(ctx).Model(&rule).Update("is_active", active).Error; err != nil {
		return nil, fmt.Errorf("update bonus rule: %w", err)
	}
	rule.IsActive = active

	e.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "active": active, "actor": actor.UserID}).Info("bonus rule updated")
	return &rule, nil
}

package bonus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/database/testutil"
	"github.com/creatorfund/backend/internal/lock"
	"github.com/creatorfund/backend/internal/logger"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/services/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type EngineSuite struct {
	suite.Suite
	db     *gorm.DB
	agg    *ledger.Aggregator
	engine *Engine
	admin  security.Principal
	ctx    context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = testutil.NewTestDB(s.T())
	locker := lock.NewKeyedMutex()
	s.agg = ledger.NewAggregator(s.db, locker, ledger.Config{
		CreatorShare:   decimal.RequireFromString("0.90"),
		DriftTolerance: decimal.RequireFromString("0.01"),
	}, logger.Discard())
	s.engine = NewEngine(s.db, locker, s.agg, security.NewRoleAuthorizer(), logger.Discard())
	s.admin = security.Principal{UserID: uuid.New(), Roles: []string{security.RoleAdmin}}
}

func (s *EngineSuite) referrals(user uuid.UUID, n int, commission string) {
	for i := 0; i < n; i++ {
		testutil.CreateReferral(s.T(), s.db, user, commission, models.ReferralStatusPending)
	}
}

func (s *EngineSuite) awardCount(user uuid.UUID) int64 {
	var n int64
	s.Require().NoError(s.db.Model(&models.BonusAward{}).Where("user_id = ?", user).Count(&n).Error)
	return n
}

func (s *EngineSuite) TestNonRecurringRuleAwardsOnce() {
	user := uuid.New()
	s.referrals(user, 5, "2.00")
	testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{MinReferrals: 5, BonusAmount: decimal.NewFromInt(50), IsActive: true})

	first, err := s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)
	s.Require().Len(first.Awarded, 1)
	s.Equal("50.00", first.TotalApplied.StringFixed(2))
	s.Equal(5, first.ReferralCount)

	second, err := s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)
	s.Empty(second.Awarded)
	s.True(second.TotalApplied.IsZero())

	balance, err := s.agg.GetBalance(s.ctx, user)
	s.Require().NoError(err)
	s.Equal("60.00", balance.TotalEarnings.StringFixed(2))
	s.Equal(int64(1), s.awardCount(user))
}

func (s *EngineSuite) TestRuleOutsideRangeIsSkipped() {
	user := uuid.New()
	s.referrals(user, 3, "1.00")
	max := 2
	testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{MinReferrals: 5, BonusAmount: decimal.NewFromInt(50), IsActive: true})
	testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{MinReferrals: 1, MaxReferrals: &max, BonusAmount: decimal.NewFromInt(10), IsActive: true})

	result, err := s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)
	s.Empty(result.Awarded)
	s.Equal(int64(0), s.awardCount(user))
}

func (s *EngineSuite) TestPercentageOfCommissions() {
	user := uuid.New()
	testutil.CreateReferral(s.T(), s.db, user, "20.00", models.ReferralStatusCompleted)
	testutil.CreateReferral(s.T(), s.db, user, "25.00", models.ReferralStatusPending)
	testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{
		MinReferrals:    1,
		BonusAmount:     decimal.NewFromInt(1),
		BonusPercentage: decimal.NewFromInt(10),
		IsActive:        true,
	})

	result, err := s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)
	s.Require().Len(result.Awarded, 1)
	s.Equal("5.50", result.Awarded[0].Amount.StringFixed(2))
}

func (s *EngineSuite) TestRulesEvaluatedByPriorityThenStorageOrder() {
	user := uuid.New()
	s.referrals(user, 1, "1.00")
	base := time.Now().Add(-time.Hour)

	low := testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{Code: "low", Priority: 1, MinReferrals: 1, BonusAmount: decimal.NewFromInt(1), IsActive: true})
	tieSecond := testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{Code: "tie-second", Priority: 10, MinReferrals: 1, BonusAmount: decimal.NewFromInt(2), IsActive: true})
	tieFirst := testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{Code: "tie-first", Priority: 10, MinReferrals: 1, BonusAmount: decimal.NewFromInt(3), IsActive: true})
	testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{Code: "inactive", Priority: 99, MinReferrals: 1, BonusAmount: decimal.NewFromInt(4), IsActive: false})

	s.Require().NoError(s.db.Model(tieFirst).Update("created_at", base).Error)
	s.Require().NoError(s.db.Model(tieSecond).Update("created_at", base.Add(time.Minute)).Error)

	result, err := s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)
	s.Require().Len(result.Awarded, 3)
	s.Equal(tieFirst.ID, result.Awarded[0].RuleID)
	s.Equal(tieSecond.ID, result.Awarded[1].RuleID)
	s.Equal(low.ID, result.Awarded[2].RuleID)
}

func (s *EngineSuite) TestRecurringRulePaysPerNewReferralCount() {
	user := uuid.New()
	s.referrals(user, 1, "1.00")
	testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{MinReferrals: 1, BonusAmount: decimal.NewFromInt(5), IsRecurring: true, IsActive: true})

	result, err := s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)
	s.Len(result.Awarded, 1)

	result, err = s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)
	s.Empty(result.Awarded)

	s.referrals(user, 1, "1.00")
	result, err = s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)
	s.Len(result.Awarded, 1)
	s.Equal(int64(2), s.awardCount(user))
}

func (s *EngineSuite) TestConcurrentApplyAwardsOnce() {
	user := uuid.New()
	s.referrals(user, 5, "1.00")
	testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{MinReferrals: 5, BonusAmount: decimal.NewFromInt(50), IsActive: true})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.engine.ApplyBonuses(s.ctx, user)
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(int64(1), s.awardCount(user))
	balance, err := s.agg.GetBalance(s.ctx, user)
	s.Require().NoError(err)
	s.Equal("55.00", balance.TotalEarnings.StringFixed(2))
}

func (s *EngineSuite) TestAwardRecordIsAuthoritativeAfterBalanceReset() {
	user := uuid.New()
	s.referrals(user, 5, "0.00")
	testutil.CreateBonusRule(s.T(), s.db, models.BonusRule{MinReferrals: 5, BonusAmount: decimal.NewFromInt(50), IsActive: true})

	_, err := s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)

	s.Require().NoError(s.db.Where("user_id = ?", user).Delete(&models.Balance{}).Error)

	result, err := s.engine.ApplyBonuses(s.ctx, user)
	s.Require().NoError(err)
	s.Empty(result.Awarded)

	synced, err := s.agg.Sync(s.ctx, user, ledger.TriggerReconcile)
	s.Require().NoError(err)
	s.Equal("50.00", synced.Balance.TotalEarnings.StringFixed(2))
}

func (s *EngineSuite) TestCreateRuleRequiresPermission() {
	creator := security.Principal{UserID: uuid.New(), Roles: []string{"creator"}}

	_, err := s.engine.CreateRule(s.ctx, creator, RuleInput{Name: "Five referrals", MinReferrals: 5, BonusAmount: decimal.NewFromInt(50)})
	s.ErrorIs(err, apperrors.ErrPermissionDenied)

	var n int64
	s.Require().NoError(s.db.Model(&models.BonusRule{}).Count(&n).Error)
	s.Equal(int64(0), n)
}

func (s *EngineSuite) TestCreateRuleDerivesCode() {
	rule, err := s.engine.CreateRule(s.ctx, s.admin, RuleInput{Name: "Five Referrals Club", MinReferrals: 5, BonusAmount: decimal.NewFromInt(50)})
	s.Require().NoError(err)
	s.Equal("five-referrals-club", rule.Code)
	s.True(rule.IsActive)

	_, err = s.engine.CreateRule(s.ctx, s.admin, RuleInput{Name: "five referrals club", MinReferrals: 1, BonusAmount: decimal.NewFromInt(5)})
	s.ErrorIs(err, apperrors.ErrValidation)
}

func (s *EngineSuite) TestCreateRuleValidation() {
	max := 1
	inputs := []RuleInput{
		{Name: "", BonusAmount: decimal.NewFromInt(1)},
		{Name: "negative", MinReferrals: -1, BonusAmount: decimal.NewFromInt(1)},
		{Name: "bad range", MinReferrals: 3, MaxReferrals: &max, BonusAmount: decimal.NewFromInt(1)},
		{Name: "nothing", MinReferrals: 1},
		{Name: "too much", MinReferrals: 1, BonusPercentage: decimal.NewFromInt(150)},
	}

	for _, in := range inputs {
		_, err := s.engine.CreateRule(s.ctx, s.admin, in)
		s.ErrorIs(err, apperrors.ErrValidation, in.Name)
	}
}

func (s *EngineSuite) TestSetRuleActive() {
	rule, err := s.engine.CreateRule(s.ctx, s.admin, RuleInput{Name: "Starter", MinReferrals: 1, BonusAmount: decimal.NewFromInt(5)})
	s.Require().NoError(err)

	updated, err := s.engine.SetRuleActive(s.ctx, s.admin, rule.ID, false)
	s.Require().NoError(err)
	s.False(updated.IsActive)

	active, err := s.engine.ListRules(s.ctx, true)
	s.Require().NoError(err)
	s.Empty(active)

	_, err = s.engine.SetRuleActive(s.ctx, s.admin, uuid.New(), true)
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *EngineSuite) TestDedupeKey() {
	rule := models.BonusRule{Base: models.Base{ID: uuid.MustParse("2b0e8f5c-1f7c-4bb0-9c55-0c1f0f1b2a3d")}}
	s.Equal("rule:2b0e8f5c-1f7c-4bb0-9c55-0c1f0f1b2a3d", DedupeKey(rule, 7))

	rule.IsRecurring = true
	s.Equal("rule:2b0e8f5c-1f7c-4bb0-9c55-0c1f0f1b2a3d:count:7", DedupeKey(rule, 7))
}

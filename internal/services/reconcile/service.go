// Package reconcile holds the corrective ledger operations: resync from source,
// purge of synthetic revenue, reassignment of mis-posted events and the batch
// runners used by scheduled jobs.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/lock"
	"github.com/creatorfund/backend/internal/metrics"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/services/bonus"
	"github.com/creatorfund/backend/internal/services/ledger"
	"github.com/creatorfund/backend/internal/services/revenue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service runs reconciliation against the ledger
type Service struct {
	db         *gorm.DB
	locker     lock.Locker
	aggregator *ledger.Aggregator
	bonuses    *bonus.Engine
	reader     *revenue.GormReader
	authz      security.Authorizer
	logger     logrus.FieldLogger
}

// NewService creates a Service
func NewService(db *gorm.DB, locker lock.Locker, aggregator *ledger.Aggregator, bonuses *bonus.Engine, authz security.Authorizer, logger logrus.FieldLogger) *Service {
	return &Service{
		db:         db,
		locker:     locker,
		aggregator: aggregator,
		bonuses:    bonuses,
		reader:     revenue.NewGormReader(db),
		authz:      authz,
		logger:     logger.WithField("component", "reconcile"),
	}
}

// Resync recomputes the user's balance from source and overwrites the cache.
// Drift beyond tolerance is logged, counted and corrected in the same write.
func (s *Service) Resync(ctx context.Context, userID uuid.UUID) (*ledger.SyncResult, error) {
	result, err := s.aggregator.Sync(ctx, userID, ledger.TriggerReconcile)
	if err != nil {
		return nil, err
	}

	if result.Drift != nil {
		metrics.RecordDriftCorrection()
		s.logger.WithFields(logrus.Fields{
			"user_id":              userID,
			"cached_total":         result.Drift.Cached.StringFixed(2),
			"recomputed_total":     result.Drift.Recomputed.StringFixed(2),
			"cached_available":     result.Drift.CachedAvailable.StringFixed(2),
			"recomputed_available": result.Drift.RecomputedAvailable.StringFixed(2),
			"delta":                result.Drift.Delta().StringFixed(2),
		}).Warn("balance drift corrected")
	}
	return result, nil
}

// ReassignResult holds the recomputed balances of both users
type ReassignResult struct {
	Stream models.Stream      `json:"stream"`
	Event  uuid.UUID          `json:"event_id"`
	FromID uuid.UUID          `json:"from_user_id"`
	ToID   uuid.UUID          `json:"to_user_id"`
	From   *ledger.SyncResult `json:"-"`
	To     *ledger.SyncResult `json:"-"`
}

// ReassignRevenue moves one revenue event to the user it should have been
// credited to and recomputes both balances in the same transaction.
func (s *Service) ReassignRevenue(ctx context.Context, actor security.Principal, stream models.Stream, eventID, newBeneficiary uuid.UUID) (*ReassignResult, error) {
	if err := s.authz.Require(actor, security.PermissionLedgerReconcile); err != nil {
		return nil, err
	}
	if newBeneficiary == uuid.Nil {
		return nil, apperrors.NewValidationError("new_beneficiary", "is required")
	}
	table, err := revenue.TableFor(stream)
	if err != nil {
		return nil, err
	}

	current, err := s.beneficiary(ctx, s.db, table, eventID)
	if err != nil {
		return nil, err
	}
	if current == newBeneficiary {
		return nil, apperrors.NewValidationError("new_beneficiary", "event is already credited to this user")
	}

	unlock, err := s.lockPair(ctx, current, newBeneficiary)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &ReassignResult{Stream: stream, Event: eventID, FromID: current, ToID: newBeneficiary}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(table.Model()).
			Where("id = ? AND "+table.BeneficiaryColumn+" = ?", eventID, current).
			Update(table.BeneficiaryColumn, newBeneficiary)
		if res.Error != nil {
			return fmt.Errorf("reassign %s %s: %w", stream, eventID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%s %s changed beneficiary: %w", stream, eventID, apperrors.ErrConcurrentModification)
		}

		if result.From, err = s.aggregator.SyncTx(ctx, tx, current, ledger.TriggerReconcile); err != nil {
			return err
		}
		result.To, err = s.aggregator.SyncTx(ctx, tx, newBeneficiary, ledger.TriggerReconcile)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"stream":   stream,
		"event_id": eventID,
		"from":     current,
		"to":       newBeneficiary,
		"actor":    actor.UserID,
	}).Info("revenue event reassigned")
	return result, nil
}

func (s *Service) beneficiary(ctx context.Context, db *gorm.DB, table revenue.Table, eventID uuid.UUID) (uuid.UUID, error) {
	var ids []uuid.UUID
	err := db.WithContext(ctx).Model(table.Model()).Where("id = ?", eventID).Pluck(table.BeneficiaryColumn, &ids).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("load %s %s: %w", table.Stream, eventID, err)
	}
	if len(ids) == 0 {
		return uuid.Nil, fmt.Errorf("%s %s: %w", table.Stream, eventID, apperrors.ErrNotFound)
	}
	return ids[0], nil
}

// lockPair takes both user locks in key order so two crossing reassignments cannot deadlock
func (s *Service) lockPair(ctx context.Context, a, b uuid.UUID) (func(), error) {
	ids := []uuid.UUID{a, b}
	revenue.SortIDs(ids)

	first, err := s.locker.Lock(ctx, ledger.LockKey(ids[0]))
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", ids[0], err)
	}
	second, err := s.locker.Lock(ctx, ledger.LockKey(ids[1]))
	if err != nil {
		first()
		return nil, fmt.Errorf("lock user %s: %w", ids[1], err)
	}
	return func() {
		second()
		first()
	}, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

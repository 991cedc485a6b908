package reconcile

import (
	"context"
	"fmt"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/services/ledger"
	"github.com/creatorfund/backend/internal/services/revenue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Filter selects synthetic revenue events by the identity that produced them
type Filter struct {
	Origins []string        `json:"origins"`
	Streams []models.Stream `json:"streams,omitempty"`
	UserID  *uuid.UUID      `json:"user_id,omitempty"`
}

// Validate requires at least one origin; purging everything is never a cleanup
func (f Filter) Validate() error {
	if len(f.Origins) == 0 {
		return apperrors.NewValidationError("origins", "at least one origin is required")
	}
	for _, o := range f.Origins {
		if o == "" {
			return apperrors.NewValidationError("origins", "must not contain empty values")
		}
	}
	for _, s := range f.Streams {
		if !s.Valid() {
			return apperrors.NewValidationError("streams", fmt.Sprintf("unknown stream %q", s))
		}
	}
	return nil
}

func (f Filter) streams() []models.Stream {
	if len(f.Streams) == 0 {
		return models.Streams
	}
	return f.Streams
}

// UserPurge is the effect of a purge on one user
type UserPurge struct {
	UserID      uuid.UUID               `json:"user_id"`
	Removed     map[models.Stream]int64 `json:"removed"`
	Amount      decimal.Decimal         `json:"amount"`
	TotalBefore decimal.Decimal         `json:"total_before"`
	TotalAfter  decimal.Decimal         `json:"total_after"`
	Error       string                  `json:"error,omitempty"`
}

// PurgeReport summarises a purge run
type PurgeReport struct {
	Users   []UserPurge     `json:"users"`
	Removed int64           `json:"removed"`
	Amount  decimal.Decimal `json:"amount"`
	Failed  int             `json:"failed"`
}

// PurgeSyntheticEntries soft-deletes revenue events produced by the filtered
// origins. Each affected user is handled in its own transaction together with a
// balance recompute; a failure for one user does not roll back the others.
func (s *Service) PurgeSyntheticEntries(ctx context.Context, actor security.Principal, filter Filter) (*PurgeReport, error) {
	if err := s.authz.Require(actor, security.PermissionLedgerReconcile); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	users, err := s.affectedUsers(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &PurgeReport{Users: make([]UserPurge, 0, len(users)), Amount: decimal.Zero}
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		up, err := s.purgeUser(ctx, userID, filter)
		if err != nil {
			report.Failed++
			up.Error = err.Error()
			s.logger.WithError(err).WithField("user_id", userID).Error("purge failed for user")
		} else {
			for _, n := range up.Removed {
				report.Removed += n
			}
			report.Amount = report.Amount.Add(up.Amount)
		}
		report.Users = append(report.Users, up)
	}

	s.logger.WithFields(logrus.Fields{
		"origins": filter.Origins,
		"users":   len(users),
		"removed": report.Removed,
		"amount":  report.Amount.StringFixed(2),
		"failed":  report.Failed,
		"actor":   actor.UserID,
	}).Warn("synthetic revenue purged")
	return report, nil
}

func (s *Service) affectedUsers(ctx context.Context, filter Filter) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	var users []uuid.UUID

	for _, stream := range filter.streams() {
		table, err := revenue.TableFor(stream)
		if err != nil {
			return nil, err
		}

		query := s.db.WithContext(ctx).Model(table.Model()).Distinct().Where("origin IN ?", filter.Origins)
		if filter.UserID != nil {
			query = query.Where(table.BeneficiaryColumn+" = ?", *filter.UserID)
		}

		var ids []uuid.UUID
		if err := query.Pluck(table.BeneficiaryColumn, &ids).Error; err != nil {
			return nil, fmt.Errorf("find users with synthetic %s: %w", stream, err)
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				users = append(users, id)
			}
		}
	}

	revenue.SortIDs(users)
	return users, nil
}

type amountRow struct {
	Amount decimal.Decimal
}

func (s *Service) purgeUser(ctx context.Context, userID uuid.UUID, filter Filter) (UserPurge, error) {
	up := UserPurge{UserID: userID, Removed: make(map[models.Stream]int64), Amount: decimal.Zero}

	unlock, err := s.locker.Lock(ctx, ledger.LockKey(userID))
	if err != nil {
		return up, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	before, err := s.aggregator.GetBalance(ctx, userID)
	if err != nil {
		return up, err
	}
	up.TotalBefore = before.TotalEarnings

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stream := range filter.streams() {
			table, err := revenue.TableFor(stream)
			if err != nil {
				return err
			}
			where := table.BeneficiaryColumn + " = ? AND origin IN ?"

			var rows []amountRow
			err = tx.Model(table.Model()).Select(table.AmountColumn+" AS amount").Where(where, userID, filter.Origins).Scan(&rows).Error
			if err != nil {
				return fmt.Errorf("sum synthetic %s: %w", stream, err)
			}
			if len(rows) == 0 {
				continue
			}

			res := tx.Where(where, userID, filter.Origins).Delete(table.Model())
			if res.Error != nil {
				return fmt.Errorf("delete synthetic %s: %w", stream, res.Error)
			}
			up.Removed[stream] = res.RowsAffected
			for _, row := range rows {
				up.Amount = up.Amount.Add(row.Amount)
			}
		}

		// Never subtract: the balance is rederived from what remains.
		synced, err := s.aggregator.SyncTx(ctx, tx, userID, ledger.TriggerPurge)
		if err != nil {
			return err
		}
		up.TotalAfter = synced.Balance.TotalEarnings
		return nil
	})
	if err != nil {
		up.Removed = map[models.Stream]int64{}
		up.Amount = decimal.Zero
		return up, err
	}
	return up, nil
}

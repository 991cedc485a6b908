package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/metrics"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/services/ledger"
	"github.com/creatorfund/backend/internal/services/notify"
	"github.com/creatorfund/backend/internal/services/transport"
	"github.com/creatorfund/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Create opens a pending request and reserves its amount from the available balance
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (req *models.PayoutRequest, err error) {
	defer func() { metrics.RecordPayoutTransition("create", err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	capable, err := s.transport.HasPayoutAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check payout account: %w", err)
	}

	unlock, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Stored in its own transaction so a refusal below cannot roll it back.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.aggregator.MarkPayoutCapable(ctx, tx, userID, capable)
	})
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Authorise against a fresh recomputation, not the cached row.
		synced, err := s.aggregator.SyncTx(ctx, tx, userID, ledger.TriggerPayout)
		if err != nil {
			return err
		}

		available := synced.Computation.Available
		if in.Amount.GreaterThan(available) {
			return fmt.Errorf("requested %s, available %s: %w",
				in.Amount.StringFixed(2), available.StringFixed(2), apperrors.ErrInsufficientBalance)
		}
		if in.Amount.LessThan(s.cfg.MinAmount) {
			return apperrors.NewValidationError("amount", "must be at least "+s.cfg.MinAmount.StringFixed(2))
		}

		if !capable {
			return apperrors.NewValidationError("destination_account_id", "no payout account is connected")
		}

		var inFlight int64
		err = tx.Model(&models.PayoutRequest{}).
			Where("user_id = ? AND status IN ?", userID, models.InFlightPayoutStatuses).
			Count(&inFlight).Error
		if err != nil {
			return fmt.Errorf("count in-flight requests: %w", err)
		}
		if inFlight > 0 {
			return apperrors.ErrConflictingInFlightRequest
		}

		id := uuid.New()
		req = &models.PayoutRequest{
			Base:                 models.Base{ID: id},
			UserID:               userID,
			Amount:               in.Amount,
			Method:               in.Method,
			DestinationAccountID: in.DestinationAccountID,
			Status:               models.PayoutStatusPending,
			IdempotencyKey:       "payout_" + id.String(),
			RequestedAt:          s.now(),
		}
		if err := tx.Create(req).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperrors.ErrConflictingInFlightRequest
			}
			return fmt.Errorf("create payout request: %w", err)
		}

		_, err = s.aggregator.SyncTx(ctx, tx, userID, ledger.TriggerPayout)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"payout_id": req.ID, "user_id": userID, "amount": req.Amount.StringFixed(2)}).Info("payout requested")
	s.notifier.Send(ctx, userID, notify.TypePayoutRequested,
		fmt.Sprintf("Your payout request for %s is pending review.", utils.FormatCurrency(req.Amount, "USD")))
	return req, nil
}

// Approve moves a pending request to approved. Funds are already reserved.
func (s *Service) Approve(ctx context.Context, actor security.Principal, id uuid.UUID, notes string) (req *models.PayoutRequest, err error) {
	defer func() { metrics.RecordPayoutTransition("approve", err) }()

	req, err = s.transition(ctx, actor, id, models.PayoutStatusApproved, []models.PayoutStatus{models.PayoutStatusPending}, nil,
		func(req *models.PayoutRequest) map[string]interface{} {
			now := s.now()
			updates := map[string]interface{}{"approved_at": now, "reviewed_by": actor.UserID}
			if notes != "" {
				updates["admin_notes"] = notes
			}
			req.ApprovedAt = &now
			return updates
		}, nil)
	if err != nil {
		return nil, err
	}

	s.notifier.Send(ctx, req.UserID, notify.TypePayoutApproved,
		fmt.Sprintf("Your payout of %s was approved.", utils.FormatCurrency(req.Amount, "USD")))
	return req, nil
}

// Reject closes a pending (or, when configured, approved) request and returns
// the reserved amount to the available balance. An approved request whose
// transfer was attempted is only rejected once the processor confirms it holds
// no transfer under the request's idempotency key.
func (s *Service) Reject(ctx context.Context, actor security.Principal, id uuid.UUID, reason string) (req *models.PayoutRequest, err error) {
	defer func() { metrics.RecordPayoutTransition("reject", err) }()

	from := []models.PayoutStatus{models.PayoutStatusPending}
	if s.cfg.AllowRejectApproved {
		from = append(from, models.PayoutStatusApproved)
	}

	req, err = s.transition(ctx, actor, id, models.PayoutStatusRejected, from, s.confirmNoTransfer,
		func(req *models.PayoutRequest) map[string]interface{} {
			now := s.now()
			req.RejectedAt = &now
			return map[string]interface{}{
				"rejected_at":     now,
				"reviewed_by":     actor.UserID,
				"admin_notes":     reason,
				"needs_attention": false,
			}
		},
		func(ctx context.Context, tx *gorm.DB, req *models.PayoutRequest) error {
			_, err := s.aggregator.SyncTx(ctx, tx, req.UserID, ledger.TriggerPayout)
			return err
		})
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Your payout of %s was rejected and the amount returned to your balance.", utils.FormatCurrency(req.Amount, "USD"))
	if reason != "" {
		message += " Reason: " + reason
	}
	s.notifier.Send(ctx, req.UserID, notify.TypePayoutRejected, message)
	return req, nil
}

// MarkPaid sends the funds through the transport and completes an approved request.
// If the transfer cannot be completed the request stays approved and is flagged
// for the operator queue.
func (s *Service) MarkPaid(ctx context.Context, actor security.Principal, id uuid.UUID) (req *models.PayoutRequest, err error) {
	defer func() { metrics.RecordPayoutTransition("mark_paid", err) }()

	if err := s.authz.Require(actor, security.PermissionPayoutManage); err != nil {
		return nil, err
	}

	req, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; another admin may have finished first.
	if req, err = s.Get(ctx, id); err != nil {
		return nil, err
	}
	if req.Status != models.PayoutStatusApproved {
		return nil, &apperrors.InvalidStateTransitionError{Current: string(req.Status), Target: string(models.PayoutStatusPaid)}
	}

	log := s.logger.WithFields(logrus.Fields{"payout_id": req.ID, "user_id": req.UserID, "actor": actor.UserID})

	transferID, transferErr := s.transport.Transfer(ctx, transport.TransferRequest{
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		IdempotencyKey:       req.IdempotencyKey,
		Reference:            req.ID.String(),
	})
	if transferErr != nil {
		s.flagTransferFailure(ctx, req, transferErr, log)
		s.notifier.Send(ctx, req.UserID, notify.TypePayoutTransferFailed,
			fmt.Sprintf("Your payout of %s is delayed. Our team has been notified.", utils.FormatCurrency(req.Amount, "USD")))
		if errors.Is(transferErr, apperrors.ErrExternalTransportFailure) {
			return nil, transferErr
		}
		return nil, &apperrors.TransportError{Attempts: 1, Err: transferErr}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&models.PayoutRequest{}).
			Where("id = ? AND status = ?", req.ID, models.PayoutStatusApproved).
			Updates(map[string]interface{}{
				"status":              models.PayoutStatusPaid,
				"paid_at":             now,
				"transfer_id":         transferID,
				"transfer_attempts":   gorm.Expr("transfer_attempts + 1"),
				"needs_attention":     false,
				"last_transfer_error": "",
				"updated_at":          now,
			})
		if res.Error != nil {
			return fmt.Errorf("mark payout paid: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return s.stateConflict(ctx, tx, req.ID, models.PayoutStatusPaid)
		}

		txn := &models.PayoutTransaction{
			PayoutRequestID: req.ID,
			UserID:          req.UserID,
			Type:            models.PayoutTransactionType,
			FromIdentity:    models.PlatformIdentity,
			ToIdentity:      req.DestinationAccountID,
			Amount:          req.Amount,
			Status:          models.PayoutTransactionCompleted,
			Reference:       s.refs.Generate("pay"),
			TransferID:      transferID,
			Metadata: datatypes.JSONMap{
				"payout_request_id": req.ID.String(),
				"idempotency_key":   req.IdempotencyKey,
				"method":            req.Method,
				"approved_by":       actor.UserID.String(),
			},
		}
		if err := tx.Create(txn).Error; err != nil {
			return fmt.Errorf("record payout transaction: %w", err)
		}

		if _, err := s.aggregator.SyncTx(ctx, tx, req.UserID, ledger.TriggerPayout); err != nil {
			return err
		}

		req.Status = models.PayoutStatusPaid
		req.PaidAt = &now
		req.TransferID = transferID
		req.NeedsAttention = false
		req.LastTransferError = ""
		req.TransferAttempts++
		return nil
	})
	if err != nil {
		// The processor already holds the transfer under this idempotency key, so
		// a later MarkPaid completes the record without moving money twice.
		log.WithError(err).WithField("transfer_id", transferID).Error("transfer succeeded but recording it failed")
		return nil, err
	}

	log.WithField("transfer_id", transferID).Info("payout paid")
	s.notifier.Send(ctx, req.UserID, notify.TypePayoutPaid,
		fmt.Sprintf("Your payout of %s has been sent.", utils.FormatCurrency(req.Amount, "USD")))
	return req, nil
}

// flagTransferFailure records the failed round and puts the request on the operator queue
func (s *Service) flagTransferFailure(ctx context.Context, req *models.PayoutRequest, transferErr error, log logrus.FieldLogger) {
	log.WithError(transferErr).Error("payout transfer failed, request left approved for operator review")

	res := s.db.WithContext(ctx).Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", req.ID, models.PayoutStatusApproved).
		Updates(map[string]interface{}{
			"transfer_attempts":   gorm.Expr("transfer_attempts + 1"),
			"last_transfer_error": transferErr.Error(),
			"needs_attention":     true,
			"updated_at":          s.now(),
		})
	if res.Error != nil {
		log.WithError(res.Error).Error("failed to flag payout request for operator review")
	}
}

// confirmNoTransfer refuses to release an approved request's funds while a
// transfer for it may exist at the processor.
func (s *Service) confirmNoTransfer(ctx context.Context, req *models.PayoutRequest) error {
	if req.Status != models.PayoutStatusApproved || (req.TransferAttempts == 0 && !req.NeedsAttention) {
		return nil
	}

	transferID, found, err := s.transport.LookupTransfer(ctx, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrExternalTransportFailure) {
			return err
		}
		return &apperrors.TransportError{Attempts: 1, Err: err}
	}
	if found {
		s.logger.WithFields(logrus.Fields{
			"payout_id":   req.ID,
			"user_id":     req.UserID,
			"transfer_id": transferID,
		}).Warn("reject refused, processor holds a transfer for this payout")
		return &apperrors.InvalidStateTransitionError{Current: string(req.Status), Target: string(models.PayoutStatusRejected)}
	}
	return nil
}

type checkFunc func(ctx context.Context, req *models.PayoutRequest) error

type updateFunc func(req *models.PayoutRequest) map[string]interface{}

type afterFunc func(ctx context.Context, tx *gorm.DB, req *models.PayoutRequest) error

// transition performs a guarded status change: permission check, per-user lock,
// optional check on the request as seen under that lock, row lock, conditional
// update on the expected source status, then after.
func (s *Service) transition(
	ctx context.Context,
	actor security.Principal,
	id uuid.UUID,
	target models.PayoutStatus,
	from []models.PayoutStatus,
	check checkFunc,
	updates updateFunc,
	after afterFunc,
) (*models.PayoutRequest, error) {
	if err := s.authz.Require(actor, security.PermissionPayoutManage); err != nil {
		return nil, err
	}

	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if check != nil {
		// Transfer bookkeeping only changes under the user lock, so this read stays valid.
		locked, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !statusIn(locked.Status, from) {
			return nil, &apperrors.InvalidStateTransitionError{Current: string(locked.Status), Target: string(target)}
		}
		if err := check(ctx, locked); err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.PayoutRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "id = ?", id).Error; err != nil {
			return fmt.Errorf("load payout request: %w", err)
		}
		if !statusIn(current.Status, from) {
			return &apperrors.InvalidStateTransitionError{Current: string(current.Status), Target: string(target)}
		}

		values := updates(&current)
		values["status"] = target
		values["updated_at"] = s.now()

		res := tx.Model(&models.PayoutRequest{}).
			Where("id = ? AND status = ?", id, current.Status).
			Updates(values)
		if res.Error != nil {
			return fmt.Errorf("update payout request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return s.stateConflict(ctx, tx, id, target)
		}

		if after != nil {
			if err := after(ctx, tx, &current); err != nil {
				return err
			}
		}

		req, err = s.load(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"payout_id": id,
		"user_id":   req.UserID,
		"status":    target,
		"actor":     actor.UserID,
	}).Info("payout request transitioned")
	return req, nil
}

// stateConflict reports the state a lost conditional update actually found
func (s *Service) stateConflict(ctx context.Context, tx *gorm.DB, id uuid.UUID, target models.PayoutStatus) error {
	current, err := s.load(ctx, tx, id)
	if err != nil {
		return err
	}
	return &apperrors.InvalidStateTransitionError{Current: string(current.Status), Target: string(target)}
}

func statusIn(status models.PayoutStatus, set []models.PayoutStatus) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}

package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/lock"
	"github.com/creatorfund/backend/internal/models"
	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/services/ledger"
	"github.com/creatorfund/backend/internal/services/notify"
	"github.com/creatorfund/backend/internal/services/transport"
	"github.com/creatorfund/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Config holds payout rules
type Config struct {
	MinAmount           decimal.Decimal
	AllowRejectApproved bool
}

// Sender queues user notifications without blocking or failing the caller
type Sender interface {
	Send(ctx context.Context, userID uuid.UUID, typ notify.Type, message string)
}

// CreateInput is a user's withdrawal request
type CreateInput struct {
	Amount               decimal.Decimal `json:"amount"`
	Method               string          `json:"method"`
	DestinationAccountID string          `json:"destination_account_id"`
}

// Validate checks the fields that need no ledger state
func (in CreateInput) Validate() error {
	switch {
	case !in.Amount.IsPositive():
		return apperrors.NewValidationError("amount", "must be positive")
	case !in.Amount.Equal(in.Amount.Round(2)):
		return apperrors.NewValidationError("amount", "must be in whole cents")
	case in.Method == "":
		return apperrors.NewValidationError("method", "is required")
	case in.DestinationAccountID == "":
		return apperrors.NewValidationError("destination_account_id", "is required")
	}
	return nil
}

// Service runs the payout request state machine:
// pending -> approved -> paid, or pending/approved -> rejected.
type Service struct {
	db         *gorm.DB
	locker     lock.Locker
	aggregator *ledger.Aggregator
	transport  transport.Transport
	authz      security.Authorizer
	notifier   Sender
	refs       *utils.ReferenceGenerator
	cfg        Config
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewService creates a Service
func NewService(
	db *gorm.DB,
	locker lock.Locker,
	aggregator *ledger.Aggregator,
	tr transport.Transport,
	authz security.Authorizer,
	notifier Sender,
	refs *utils.ReferenceGenerator,
	cfg Config,
	logger logrus.FieldLogger,
) *Service {
	return &Service{
		db:         db,
		locker:     locker,
		aggregator: aggregator,
		transport:  tr,
		authz:      authz,
		notifier:   notifier,
		refs:       refs,
		cfg:        cfg,
		logger:     logger.WithField("component", "payout"),
		now:        time.Now,
	}
}

// Get loads a payout request
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	return s.load(ctx, s.db, id)
}

// ListForUser returns the user's requests, newest first
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.PayoutRequest, error) {
	var requests []models.PayoutRequest
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("requested_at DESC").Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("list payout requests: %w", err)
	}
	return requests, nil
}

// ListByStatus pages through requests, oldest first. An empty status lists everything.
func (s *Service) ListByStatus(ctx context.Context, status models.PayoutStatus, page, pageSize int) ([]models.PayoutRequest, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.PayoutRequest{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count payout requests: %w", err)
	}

	var requests []models.PayoutRequest
	err := query.Order("requested_at ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&requests).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list payout requests: %w", err)
	}
	return requests, total, nil
}

// ListNeedingAttention is the operator queue: approved requests whose transfer failed
func (s *Service) ListNeedingAttention(ctx context.Context) ([]models.PayoutRequest, error) {
	var requests []models.PayoutRequest
	err := s.db.WithContext(ctx).
		Where("needs_attention = ? AND status = ?", true, models.PayoutStatusApproved).
		Order("updated_at ASC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("list payout requests needing attention: %w", err)
	}
	return requests, nil
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id uuid.UUID) (*models.PayoutRequest, error) {
	var req models.PayoutRequest
	if err := db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payout request %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load payout request: %w", err)
	}
	return &req, nil
}

func (s *Service) lockUser(ctx context.Context, userID uuid.UUID) (func(), error) {
	unlock, err := s.locker.Lock(ctx, ledger.LockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}
	return unlock, nil
}

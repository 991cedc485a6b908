package transport

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/creatorfund/backend/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RetryConfig bounds how hard the retrying transport tries
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// RatePerSecond caps outbound calls; zero disables the limiter.
	RatePerSecond float64
}

// Retrying wraps a Transport with bounded exponential backoff. Transfers are
// only retried under the caller's idempotency key.
type Retrying struct {
	next    Transport
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  logrus.FieldLogger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrying creates a Retrying transport
func NewRetrying(next Transport, cfg RetryConfig, logger logrus.FieldLogger) *Retrying {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}

	r := &Retrying{
		next:   next,
		cfg:    cfg,
		logger: logger.WithField("component", "transport"),
		sleep:  sleepContext,
	}
	if cfg.RatePerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return r
}

// Transfer implements Transport
func (r *Retrying) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.IdempotencyKey == "" {
		return "", apperrors.NewValidationError("idempotency_key", "is required for transfers")
	}

	var transferID string
	log := r.logger.WithFields(logrus.Fields{"idempotency_key": req.IdempotencyKey, "amount": req.Amount.StringFixed(2)})
	err := r.retry(ctx, log, func(ctx context.Context) error {
		id, err := r.next.Transfer(ctx, req)
		transferID = id
		return err
	})
	return transferID, err
}

// HasPayoutAccount implements Transport
func (r *Retrying) HasPayoutAccount(ctx context.Context, userID uuid.UUID) (bool, error) {
	var capable bool
	err := r.retry(ctx, r.logger.WithField("user_id", userID), func(ctx context.Context) error {
		ok, err := r.next.HasPayoutAccount(ctx, userID)
		capable = ok
		return err
	})
	return capable, err
}

// LookupTransfer implements Transport
func (r *Retrying) LookupTransfer(ctx context.Context, idempotencyKey string) (string, bool, error) {
	var (
		transferID string
		found      bool
	)
	err := r.retry(ctx, r.logger.WithField("idempotency_key", idempotencyKey), func(ctx context.Context) error {
		id, ok, err := r.next.LookupTransfer(ctx, idempotencyKey)
		transferID, found = id, ok
		return err
	})
	return transferID, found, err
}

func (r *Retrying) retry(ctx context.Context, log logrus.FieldLogger, call func(context.Context) error) error {
	var lastErr error
	attempt := 0

	for attempt < r.cfg.MaxAttempts {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				if lastErr == nil {
					lastErr = err
				}
				break
			}
		}

		attempt++
		err := call(ctx)
		if err == nil {
			metrics.RecordTransferAttempt("ok")
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			metrics.RecordTransferAttempt("permanent")
			break
		}
		metrics.RecordTransferAttempt("retryable")

		if attempt == r.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		wait := r.backoff(attempt)
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": wait.String()}).Warn("transport call failed, retrying")
		if err := r.sleep(ctx, wait); err != nil {
			break
		}
	}

	log.WithError(lastErr).WithField("attempts", attempt).Error("transport call failed")
	return &apperrors.TransportError{Attempts: attempt, Err: lastErr}
}

// backoff returns the wait after the given attempt: exponential, capped, with ±20% jitter
func (r *Retrying) backoff(attempt int) time.Duration {
	base := float64(r.cfg.InitialInterval)
	wait := math.Min(float64(r.cfg.MaxInterval), base*math.Pow(r.cfg.Multiplier, float64(attempt-1)))

	jitter := wait * 0.2
	wait = wait - jitter + rand.Float64()*jitter*2

	return time.Duration(wait)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package reconcile

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/creatorfund/backend/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Batch job names
const (
	JobSyncAll      = "sync_all"
	JobApplyBonuses = "apply_bonuses"
)

// Outcome of one user in a batch
type Outcome string

// Batch outcomes
const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Options controls a batch run
type Options struct {
	Concurrency int
}

// ItemResult reports one user of a batch
type ItemResult struct {
	UserID  uuid.UUID `json:"user_id"`
	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
}

// BatchReport summarises a batch run
type BatchReport struct {
	Job        string       `json:"job"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []ItemResult `json:"results"`
	OK         int          `json:"ok"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
}

// SyncAll resyncs every user that has a balance or is owed revenue
func (s *Service) SyncAll(ctx context.Context, opts Options) (*BatchReport, error) {
	users, err := s.reader.ListBeneficiaries(ctx)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, JobSyncAll, users, opts, func(ctx context.Context, userID uuid.UUID) error {
		_, err := s.Resync(ctx, userID)
		return err
	}), nil
}

// ApplyBonusesAll evaluates bonus rules for every user with referrals
func (s *Service) ApplyBonusesAll(ctx context.Context, opts Options) (*BatchReport, error) {
	users, err := s.reader.ListReferrers(ctx)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, JobApplyBonuses, users, opts, func(ctx context.Context, userID uuid.UUID) error {
		_, err := s.bonuses.ApplyBonuses(ctx, userID)
		return err
	}), nil
}

// run processes users in parallel. Every user commits independently, so a
// failure or cancellation only affects that user's result.
func (s *Service) run(ctx context.Context, job string, users []uuid.UUID, opts Options, fn func(context.Context, uuid.UUID) error) *BatchReport {
	report := &BatchReport{Job: job, StartedAt: time.Now(), Results: make([]ItemResult, len(users))}

	limit := opts.Concurrency
	if limit < 1 {
		limit = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(limit)

	var mu sync.Mutex
	record := func(i int, res ItemResult) {
		mu.Lock()
		defer mu.Unlock()
		report.Results[i] = res
		switch res.Outcome {
		case OutcomeOK:
			report.OK++
		case OutcomeFailed:
			report.Failed++
		case OutcomeSkipped:
			report.Skipped++
		}
		metrics.RecordBatchItem(job, string(res.Outcome))
	}

	for i, userID := range users {
		i, userID := i, userID
		if ctx.Err() != nil {
			record(i, ItemResult{UserID: userID, Outcome: OutcomeSkipped})
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				record(i, ItemResult{UserID: userID, Outcome: OutcomeSkipped})
				return nil
			}

			err := fn(ctx, userID)
			switch {
			case err == nil:
				record(i, ItemResult{UserID: userID, Outcome: OutcomeOK})
			case isCancellation(err) && ctx.Err() != nil:
				record(i, ItemResult{UserID: userID, Outcome: OutcomeSkipped, Error: err.Error()})
			default:
				s.logger.WithError(err).WithFields(logrus.Fields{"job": job, "user_id": userID}).Error("batch item failed")
				record(i, ItemResult{UserID: userID, Outcome: OutcomeFailed, Error: err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now()
	s.logger.WithFields(logrus.Fields{
		"job":      job,
		"users":    len(users),
		"ok":       report.OK,
		"failed":   report.Failed,
		"skipped":  report.Skipped,
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("batch finished")
	return report
}

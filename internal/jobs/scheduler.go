package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/creatorfund/backend/internal/config"
	"github.com/creatorfund/backend/internal/services/reconcile"
	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// Job tags
const (
	TagSyncAll    = "ledger-sync-all"
	TagBonusSweep = "bonus-sweep"
)

// BatchRunner is the reconciliation surface the scheduler drives
type BatchRunner interface {
	SyncAll(ctx context.Context, opts reconcile.Options) (*reconcile.BatchReport, error)
	ApplyBonusesAll(ctx context.Context, opts reconcile.Options) (*reconcile.BatchReport, error)
}

type batchFunc func(ctx context.Context, opts reconcile.Options) (*reconcile.BatchReport, error)

// Scheduler runs the recurring ledger batches
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    BatchRunner
	cfg       config.JobsConfig
	logger    logrus.FieldLogger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler. Nothing runs until Start.
func NewScheduler(runner BatchRunner, cfg config.JobsConfig, logger logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := gocron.NewScheduler(time.UTC)
	// A batch still running when its next tick fires is not started twice.
	s.SingletonModeAll()
	s.WaitForScheduleAll()

	return &Scheduler{
		scheduler: s,
		runner:    runner,
		cfg:       cfg,
		logger:    logger.WithField("component", "jobs"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register schedules the sync-all and bonus sweep batches
func (s *Scheduler) Register() error {
	if _, err := s.scheduler.Every(s.cfg.SyncAllInterval).Tag(TagSyncAll).Do(s.run, TagSyncAll, batchFunc(s.runner.SyncAll)); err != nil {
		return fmt.Errorf("schedule %s: %w", TagSyncAll, err)
	}
	if _, err := s.scheduler.Every(s.cfg.BonusSweepInterval).Tag(TagBonusSweep).Do(s.run, TagBonusSweep, batchFunc(s.runner.ApplyBonusesAll)); err != nil {
		return fmt.Errorf("schedule %s: %w", TagBonusSweep, err)
	}
	return nil
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.logger.WithFields(logrus.Fields{
		"sync_all_interval":    s.cfg.SyncAllInterval.String(),
		"bonus_sweep_interval": s.cfg.BonusSweepInterval.String(),
	}).Info("starting scheduled jobs")
	s.scheduler.StartAsync()
}

// Stop cancels running batches and stops scheduling new ones. Users already
// processed keep their committed results.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}

func (s *Scheduler) run(tag string, fn batchFunc) {
	log := s.logger.WithField("job", tag)

	report, err := fn(s.ctx, reconcile.Options{Concurrency: s.cfg.BatchConcurrency})
	if err != nil {
		log.WithError(err).Error("scheduled job failed")
		return
	}

	entry := log.WithFields(logrus.Fields{
		"ok":       report.OK,
		"failed":   report.Failed,
		"skipped":  report.Skipped,
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	})
	if report.Failed > 0 {
		entry.Warn("scheduled job finished with failures")
		return
	}
	entry.Info("scheduled job finished")
}

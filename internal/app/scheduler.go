/**
 * @description
 * Cron scheduler for periodic ledger jobs.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Snapshotter is the slice of Service the scheduler drives.
type Snapshotter interface {
	PublishSnapshot(ctx context.Context)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	target   Snapshotter
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(target Snapshotter, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		target:   target,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the snapshot job and starts the cron scheduler. An empty
// schedule leaves the scheduler idle.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		s.logger.Info("snapshot job disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.snapshotJob); err != nil {
		return err
	}
	s.logger.Info("scheduled snapshot job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) snapshotJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.target.PublishSnapshot(ctx)
}

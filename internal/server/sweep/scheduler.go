// Package sweep runs the in-process background jobs: the group failure
// sweep, expired-grant reclamation, and audit archival. All three are
// idempotent and safe to re-run, so a missed or doubled tick is harmless.
package sweep

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrijs2005/subpool/internal/logging"
	"github.com/dmitrijs2005/subpool/internal/server/config"
	"github.com/dmitrijs2005/subpool/internal/server/services"
)

// Scheduler drives the periodic jobs over cron schedules from config.
type Scheduler struct {
	cron    *cron.Cron
	groups  *services.GroupService
	access  *services.AccessService
	archive *services.ArchiveService
	config  *config.Config
	logger  logging.Logger
}

func NewScheduler(groups *services.GroupService, access *services.AccessService, archive *services.ArchiveService, cfg *config.Config, logger logging.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		groups:  groups,
		access:  access,
		archive: archive,
		config:  cfg,
		logger:  logger,
	}
}

// Start registers the jobs and starts the cron loop. Errors inside a job are
// logged and retried on the next scheduled run, never fatal.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.config.SweepSchedule, func() {
		s.runFailureSweep(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.config.ArchiveSchedule, func() {
		s.runArchive(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info(ctx, "background scheduler started",
		"sweep", s.config.SweepSchedule, "archive", s.config.ArchiveSchedule)
	return nil
}

// Stop stops the cron loop. Running jobs finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) runFailureSweep(ctx context.Context) {
	result, err := s.groups.RunFailureSweep(ctx)
	if err != nil {
		s.logger.Error(ctx, "failure sweep error", "error", err.Error())
		return
	}
	s.logger.Info(ctx, "failure sweep finished",
		"groups_failed", result.GroupsFailed, "refunds_issued", result.RefundsIssued)

	reclaimed, err := s.access.ReclaimExpiredGrants(ctx)
	if err != nil {
		s.logger.Warn(ctx, "grant reclamation error", "error", err.Error())
		return
	}
	if reclaimed > 0 {
		s.logger.Info(ctx, "expired grants reclaimed", "count", reclaimed)
	}
}

func (s *Scheduler) runArchive(ctx context.Context) {
	// archive the window since the previous scheduled run, with slack so an
	// entry is never missed between runs
	shipped, err := s.archive.ArchiveSince(ctx, time.Now().Add(-8*24*time.Hour))
	if err != nil {
		s.logger.Error(ctx, "audit archive error", "error", err.Error())
		return
	}
	s.logger.Info(ctx, "audit archive finished", "entries", shipped)
}

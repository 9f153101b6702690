package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/subpool/internal/dbx"
	"github.com/dmitrijs2005/subpool/internal/logging"
	"github.com/dmitrijs2005/subpool/internal/server/config"
	"github.com/dmitrijs2005/subpool/internal/server/models"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/repomanager"
)

// SweepResult summarizes one failure-sweep run.
type SweepResult struct {
	GroupsFailed  int
	RefundsIssued int
}

// GroupService owns the group lifecycle: creation, admin review, and the
// periodic failure sweep that expires stale groups and refunds their
// members.
type GroupService struct {
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	stalenessWindow time.Duration
	audit           *Auditor
	logger          logging.Logger
}

// NewGroupService constructs a GroupService using repositories and server config.
func NewGroupService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, audit *Auditor, logger logging.Logger) *GroupService {
	return &GroupService{
		db:              db,
		repomanager:     m,
		stalenessWindow: cfg.GroupStalenessWindow,
		audit:           audit,
		logger:          logger,
	}
}

// Create registers a new group pending admin review.
func (s *GroupService) Create(ctx context.Context, ownerID string, totalPrice, slotsTotal int64) (*models.Group, error) {
	repo := s.repomanager.Groups(s.db)
	group := &models.Group{
		OwnerID:    ownerID,
		TotalPrice: totalPrice,
		SlotsTotal: slotsTotal,
		Status:     models.GroupStatusPendingReview,
	}
	g, err := repo.Create(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("error creating group: %v", err)
	}

	s.audit.Record(ctx, "group.create", ownerID, g.ID)

	return g, nil
}

// Approve moves a group from pending review to active. Approving a group in
// any other state fails with ErrInvalidState.
func (s *GroupService) Approve(ctx context.Context, adminID, groupID string) error {
	repo := s.repomanager.Groups(s.db)
	if err := repo.UpdateStatusFrom(ctx, groupID,
		models.GroupStatusPendingReview, models.GroupStatusActive); err != nil {
		return err
	}

	s.audit.Record(ctx, "group.approve", adminID, groupID)

	return nil
}

// Reject moves a group from pending review to the terminal rejected state.
func (s *GroupService) Reject(ctx context.Context, adminID, groupID string) error {
	repo := s.repomanager.Groups(s.db)
	if err := repo.UpdateStatusFrom(ctx, groupID,
		models.GroupStatusPendingReview, models.GroupStatusRejected); err != nil {
		return err
	}

	s.audit.Record(ctx, "group.reject", adminID, groupID)

	return nil
}

// Get returns a group by id.
func (s *GroupService) Get(ctx context.Context, groupID string) (*models.Group, error) {
	return s.repomanager.Groups(s.db).GetByID(ctx, groupID)
}

// RunFailureSweep fails every open or active group older than the staleness
// window that never filled, refunding all its members in full. Each group is
// handled in its own transaction: one group's failure does not abort the
// sweep for the others, its error is logged and retried on the next run.
// The sweep is idempotent.
func (s *GroupService) RunFailureSweep(ctx context.Context) (*SweepResult, error) {
	groupRepo := s.repomanager.Groups(s.db)

	cutoff := time.Now().Add(-s.stalenessWindow)
	stale, err := groupRepo.SelectStale(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("error selecting stale groups: %v", err)
	}

	result := &SweepResult{}
	for _, g := range stale {
		var refunded int
		err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			// re-check the status under the transaction; a group that
			// filled or was swept since the select is skipped
			if err := s.repomanager.Groups(tx).UpdateStatusFrom(ctx, g.ID, g.Status, models.GroupStatusFailed); err != nil {
				return err
			}
			var err error
			refunded, err = refundAllMembers(ctx, s.repomanager, tx, g.ID)
			return err
		})
		if err != nil {
			s.logger.Warn(ctx, "failure sweep skipped group", "group", g.ID, "error", err.Error())
			continue
		}

		result.GroupsFailed++
		result.RefundsIssued += refunded
		s.audit.Record(ctx, "group.failed", g.OwnerID, g.ID)
	}

	return result, nil
}

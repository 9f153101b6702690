// Package services contains the server-side business logic. Every mutating
// operation runs as a single atomic transaction through dbx, so no caller
// can observe a half-applied join, leave, refund or withdrawal.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/subpool/internal/common"
	"github.com/dmitrijs2005/subpool/internal/dbx"
	"github.com/dmitrijs2005/subpool/internal/logging"
	"github.com/dmitrijs2005/subpool/internal/server/config"
	"github.com/dmitrijs2005/subpool/internal/server/models"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/repomanager"
)

// txRetryAttempts bounds how many times a lost-race transaction is replayed
// with its preconditions re-checked.
const txRetryAttempts = 3

// membershipDays is the billing cycle length used for prorated refunds.
const membershipDays = 30

// JoinResult is returned by a successful Join.
type JoinResult struct {
	Membership *models.Membership
	NewBalance int64
}

// LeaveResult is returned by a successful Leave.
type LeaveResult struct {
	RefundAmount int64
	NewBalance   int64
}

// MembershipService implements the membership ledger: join, leave, and the
// full-refund path used when a group fails. Each operation couples the
// membership row, the group's slot counter, the user's balance and an
// append-only ledger transaction inside one database transaction.
type MembershipService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	audit       *Auditor
	logger      logging.Logger
}

// NewMembershipService constructs a MembershipService using repositories and
// server config.
func NewMembershipService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, audit *Auditor, logger logging.Logger) *MembershipService {
	return &MembershipService{
		db:          db,
		repomanager: m,
		audit:       audit,
		logger:      logger,
	}
}

// Join adds userID to groupID, charging the group's share amount.
//
// Preconditions checked inside the transaction: the group is active and has
// a free slot, the user is not already an active member, and the user's
// balance covers the share. Under N concurrent joins for K remaining slots
// exactly K succeed; the rest fail with ErrCapacityExceeded, enforced by the
// conditional slot increment.
func (s *MembershipService) Join(ctx context.Context, userID, groupID, kind string, endDate *time.Time) (*JoinResult, error) {
	var result *JoinResult

	err := dbx.WithTxRetry(ctx, s.db, txRetryAttempts, func(ctx context.Context, tx dbx.DBTX) error {
		groupRepo := s.repomanager.Groups(tx)
		membershipRepo := s.repomanager.Memberships(tx)
		userRepo := s.repomanager.Users(tx)
		ledgerRepo := s.repomanager.Ledger(tx)

		group, err := groupRepo.GetByID(ctx, groupID)
		if err != nil {
			return err
		}

		if _, err := membershipRepo.GetActive(ctx, userID, groupID); err == nil {
			return common.ErrInvalidState
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		filled, total, err := groupRepo.ClaimSlot(ctx, groupID)
		if err != nil {
			return err
		}

		share := group.ShareAmount()
		m := &models.Membership{
			UserID:      userID,
			GroupID:     groupID,
			Kind:        kind,
			ShareAmount: share,
			IsActive:    true,
			EndDate:     endDate,
		}
		if _, err := membershipRepo.Create(ctx, m); err != nil {
			return err
		}

		if err := userRepo.Debit(ctx, userID, share); err != nil {
			return err
		}

		if _, err := ledgerRepo.Append(ctx, &models.Transaction{
			UserID:          userID,
			Amount:          share,
			Type:            models.TransactionTypeDebit,
			Status:          models.TransactionStatusCompleted,
			CounterpartyRef: groupID,
		}); err != nil {
			return err
		}

		if err := groupRepo.SetStatus(ctx, groupID, models.FillStatus(filled, total)); err != nil {
			return err
		}

		user, err := userRepo.GetByID(ctx, userID)
		if err != nil {
			return err
		}

		result = &JoinResult{Membership: m, NewBalance: user.CreditBalance}
		return nil
	})
	if err != nil {
		if errors.Is(err, dbx.ErrRetry) {
			// retries exhausted on the duplicate-membership index
			return nil, common.ErrInvalidState
		}
		return nil, err
	}

	s.audit.Record(ctx, "membership.join", userID, groupID)

	return result, nil
}

// Leave removes userID's active membership from groupID and frees the slot.
//
// Temporary memberships are refunded floor(dailyRate * daysRemaining) with
// dailyRate = shareAmount / 30; recurring memberships are refunded nothing
// (access runs to the end of the paid period, the slot frees immediately).
func (s *MembershipService) Leave(ctx context.Context, userID, groupID string) (*LeaveResult, error) {
	var result *LeaveResult

	err := dbx.WithTxRetry(ctx, s.db, txRetryAttempts, func(ctx context.Context, tx dbx.DBTX) error {
		groupRepo := s.repomanager.Groups(tx)
		membershipRepo := s.repomanager.Memberships(tx)
		userRepo := s.repomanager.Users(tx)
		ledgerRepo := s.repomanager.Ledger(tx)

		m, err := membershipRepo.GetActive(ctx, userID, groupID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrInvalidState
			}
			return err
		}

		refund := leaveRefund(m, time.Now())

		if err := membershipRepo.Deactivate(ctx, m.ID); err != nil {
			return err
		}

		filled, total, err := groupRepo.ReleaseSlot(ctx, groupID)
		if err != nil {
			return err
		}

		if refund > 0 {
			if err := userRepo.Credit(ctx, userID, refund); err != nil {
				return err
			}
			if _, err := ledgerRepo.Append(ctx, &models.Transaction{
				UserID:          userID,
				Amount:          refund,
				Type:            models.TransactionTypeRefund,
				Status:          models.TransactionStatusCompleted,
				CounterpartyRef: groupID,
			}); err != nil {
				return err
			}
		}

		if err := groupRepo.SetStatus(ctx, groupID, models.FillStatus(filled, total)); err != nil {
			return err
		}

		user, err := userRepo.GetByID(ctx, userID)
		if err != nil {
			return err
		}

		result = &LeaveResult{RefundAmount: refund, NewBalance: user.CreditBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, "membership.leave", userID, groupID)

	return result, nil
}

// RefundAll deactivates every active membership on the group and credits
// each member their full share. Used when a group fails before activating;
// this is the one refund path that is always 100% regardless of kind.
func (s *MembershipService) RefundAll(ctx context.Context, groupID string) (int, error) {
	var refunded int
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		refunded, err = refundAllMembers(ctx, s.repomanager, tx, groupID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return refunded, nil
}

// refundAllMembers runs the full-refund loop against the supplied handle so
// the failure sweep can include it in the same transaction that marks the
// group failed.
func refundAllMembers(ctx context.Context, rm repomanager.RepositoryManager, tx dbx.DBTX, groupID string) (int, error) {
	membershipRepo := rm.Memberships(tx)
	userRepo := rm.Users(tx)
	ledgerRepo := rm.Ledger(tx)

	members, err := membershipRepo.SelectActiveByGroup(ctx, groupID)
	if err != nil {
		return 0, err
	}

	for _, m := range members {
		if err := membershipRepo.Deactivate(ctx, m.ID); err != nil {
			return 0, err
		}
		if err := userRepo.Credit(ctx, m.UserID, m.ShareAmount); err != nil {
			return 0, err
		}
		if _, err := ledgerRepo.Append(ctx, &models.Transaction{
			UserID:          m.UserID,
			Amount:          m.ShareAmount,
			Type:            models.TransactionTypeRefund,
			Status:          models.TransactionStatusCompleted,
			CounterpartyRef: groupID,
		}); err != nil {
			return 0, err
		}
	}

	return len(members), nil
}

// leaveRefund computes the refund for a voluntary leave at the given time:
// floor(shareAmount * daysRemaining / 30), with partial days counting as
// whole ones. Leaving immediately after joining a 30-day membership refunds
// the full share.
func leaveRefund(m *models.Membership, now time.Time) int64 {
	if m.Kind != models.MembershipKindTemporary || m.EndDate == nil {
		return 0
	}
	remaining := m.EndDate.Sub(now)
	if remaining <= 0 {
		return 0
	}
	day := 24 * time.Hour
	daysRemaining := int64((remaining + day - 1) / day)
	if daysRemaining > membershipDays {
		daysRemaining = membershipDays
	}
	return m.ShareAmount * daysRemaining / membershipDays
}

// Transactions returns the user's ledger entries since the given time.
func (s *MembershipService) Transactions(ctx context.Context, userID string, since time.Time) ([]*models.Transaction, error) {
	repo := s.repomanager.Ledger(s.db)
	items, err := repo.SelectByUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("error selecting transactions: %v", err)
	}
	return items, nil
}

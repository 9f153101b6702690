package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/subpool/internal/common"
	"github.com/dmitrijs2005/subpool/internal/cryptox"
	"github.com/dmitrijs2005/subpool/internal/dbx"
	"github.com/dmitrijs2005/subpool/internal/logging"
	"github.com/dmitrijs2005/subpool/internal/server/config"
	"github.com/dmitrijs2005/subpool/internal/server/models"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/repomanager"
)

// WithdrawalResult is returned by a successful Request.
type WithdrawalResult struct {
	RequestID         string
	CooldownExpiresAt time.Time
}

// WithdrawalService implements the cooldown-gated cash-out flow. The debit
// and the request row are written in one transaction, so funds are never in
// limbo: a pending request always has a matching debit, and a rejection
// credits it straight back.
type WithdrawalService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	cipherKey      []byte
	cooldownWindow time.Duration
	minimumAmount  int64
	audit          *Auditor
	logger         logging.Logger
}

// NewWithdrawalService constructs a WithdrawalService using repositories and
// server config.
func NewWithdrawalService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, audit *Auditor, logger logging.Logger) *WithdrawalService {
	return &WithdrawalService{
		db:             db,
		repomanager:    m,
		cipherKey:      cryptox.DeriveKey([]byte(cfg.CredentialKey), []byte(cfg.CredentialKeySalt)),
		cooldownWindow: cfg.CooldownWindow,
		minimumAmount:  cfg.MinimumWithdrawal,
		audit:          audit,
		logger:         logger,
	}
}

// Request debits the user's balance and opens a pending withdrawal. One
// cooldown per user: a second request before the previous cooldown elapses
// fails with ErrCooldownActive. The destination is stored encrypted.
func (s *WithdrawalService) Request(ctx context.Context, userID string, amount int64, destination string) (*WithdrawalResult, error) {
	if amount < s.minimumAmount {
		return nil, common.ErrBelowMinimumAmount
	}

	encryptedDest, nonce, err := cryptox.Encrypt(destination, s.cipherKey)
	if err != nil {
		return nil, common.ErrInternal
	}

	var result *WithdrawalResult

	err = dbx.WithTxRetry(ctx, s.db, txRetryAttempts, func(ctx context.Context, tx dbx.DBTX) error {
		withdrawalRepo := s.repomanager.Withdrawals(tx)
		userRepo := s.repomanager.Users(tx)
		ledgerRepo := s.repomanager.Ledger(tx)

		now := time.Now()

		// The debit comes first: it takes the user row lock, so concurrent
		// requests for the same user serialize here, and the cooldown check
		// that follows sees whatever the previous holder committed. Checking
		// before the debit would let two requests both read "no cooldown"
		// and both commit.
		if err := userRepo.Debit(ctx, userID, amount); err != nil {
			return err
		}

		active, err := withdrawalRepo.HasActiveCooldown(ctx, userID, now)
		if err != nil {
			return err
		}
		if active {
			return common.ErrCooldownActive
		}

		w := &models.WithdrawalRequest{
			UserID:            userID,
			Amount:            amount,
			EncryptedDest:     encryptedDest,
			DestNonce:         nonce,
			Status:            models.WithdrawalStatusPending,
			RequestedAt:       now,
			CooldownExpiresAt: now.Add(s.cooldownWindow),
		}
		if _, err := withdrawalRepo.Create(ctx, w); err != nil {
			return err
		}

		if _, err := ledgerRepo.Append(ctx, &models.Transaction{
			UserID:          userID,
			Amount:          amount,
			Type:            models.TransactionTypeDebit,
			Status:          models.TransactionStatusCompleted,
			CounterpartyRef: w.ID,
		}); err != nil {
			return err
		}

		result = &WithdrawalResult{RequestID: w.ID, CooldownExpiresAt: w.CooldownExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, "withdrawal.request", userID, result.RequestID)

	return result, nil
}

// Approve marks a pending request processed. Admin-triggered.
func (s *WithdrawalService) Approve(ctx context.Context, adminID, requestID string) error {
	repo := s.repomanager.Withdrawals(s.db)
	if err := repo.UpdateStatusFrom(ctx, requestID,
		models.WithdrawalStatusPending, models.WithdrawalStatusProcessed); err != nil {
		return err
	}

	s.audit.Record(ctx, "withdrawal.approve", adminID, requestID)

	return nil
}

// Reject declines a pending request and credits the amount back in the same
// transaction, so a rejection can never strand funds.
func (s *WithdrawalService) Reject(ctx context.Context, adminID, requestID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		withdrawalRepo := s.repomanager.Withdrawals(tx)
		userRepo := s.repomanager.Users(tx)
		ledgerRepo := s.repomanager.Ledger(tx)

		w, err := withdrawalRepo.GetByID(ctx, requestID)
		if err != nil {
			return err
		}

		if err := withdrawalRepo.UpdateStatusFrom(ctx, requestID,
			models.WithdrawalStatusPending, models.WithdrawalStatusRejected); err != nil {
			return err
		}

		if err := userRepo.Credit(ctx, w.UserID, w.Amount); err != nil {
			return err
		}

		_, err = ledgerRepo.Append(ctx, &models.Transaction{
			UserID:          w.UserID,
			Amount:          w.Amount,
			Type:            models.TransactionTypeRefund,
			Status:          models.TransactionStatusCompleted,
			CounterpartyRef: requestID,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, "withdrawal.reject", adminID, requestID)

	return nil
}

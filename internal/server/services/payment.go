package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/subpool/internal/dbx"
	"github.com/dmitrijs2005/subpool/internal/logging"
	"github.com/dmitrijs2005/subpool/internal/server/models"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/repomanager"
)

// PaymentService consumes credit-confirmation events from the payment
// gateway. Each event is applied exactly once per idempotency key; replays
// are acknowledged without touching the balance.
type PaymentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	audit       *Auditor
	logger      logging.Logger
}

func NewPaymentService(db *sql.DB, m repomanager.RepositoryManager, audit *Auditor, logger logging.Logger) *PaymentService {
	return &PaymentService{db: db, repomanager: m, audit: audit, logger: logger}
}

// ApplyCredit credits the user's balance for a confirmed payment. The event
// row and the balance update commit together; a duplicate idempotency key
// makes the whole call a no-op.
func (s *PaymentService) ApplyCredit(ctx context.Context, userID string, amount int64, idempotencyKey string) error {
	var applied bool

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ledgerRepo := s.repomanager.Ledger(tx)
		userRepo := s.repomanager.Users(tx)

		inserted, err := ledgerRepo.InsertCreditEvent(ctx, idempotencyKey, userID, amount)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		if err := userRepo.Credit(ctx, userID, amount); err != nil {
			return err
		}

		if _, err := ledgerRepo.Append(ctx, &models.Transaction{
			UserID:          userID,
			Amount:          amount,
			Type:            models.TransactionTypeCredit,
			Status:          models.TransactionStatusCompleted,
			CounterpartyRef: idempotencyKey,
		}); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		s.audit.Record(ctx, "payment.credit", userID, idempotencyKey)
	}

	return nil
}

package ledger

import (
	"context"
	"time"

	"github.com/dmitrijs2005/subpool/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, t *models.Transaction) (*models.Transaction, error)
	SelectByUser(ctx context.Context, userID string, since time.Time) ([]*models.Transaction, error)
	InsertCreditEvent(ctx context.Context, idempotencyKey, userID string, amount int64) (bool, error)
}

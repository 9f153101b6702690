package withdrawals

import (
	"context"
	"time"

	"github.com/dmitrijs2005/subpool/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, w *models.WithdrawalRequest) (*models.WithdrawalRequest, error)
	GetByID(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	HasActiveCooldown(ctx context.Context, userID string, now time.Time) (bool, error)
	UpdateStatusFrom(ctx context.Context, id, fromStatus, toStatus string) error
}

package grants

import (
	"context"

	"github.com/dmitrijs2005/subpool/internal/server/models"
)

type Repository interface {
	Acquire(ctx context.Context, g *models.AccessGrant) error
	Release(ctx context.Context, groupID, holderUserID string) error
	GetByGroup(ctx context.Context, groupID string) (*models.AccessGrant, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

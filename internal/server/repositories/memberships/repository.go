package memberships

import (
	"context"

	"github.com/dmitrijs2005/subpool/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, m *models.Membership) (*models.Membership, error)
	GetActive(ctx context.Context, userID, groupID string) (*models.Membership, error)
	Deactivate(ctx context.Context, id string) error
	SelectActiveByGroup(ctx context.Context, groupID string) ([]*models.Membership, error)
}

package credentials

import (
	"context"

	"github.com/dmitrijs2005/subpool/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, c *models.Credential) error
	GetByGroup(ctx context.Context, groupID string) (*models.Credential, error)
}

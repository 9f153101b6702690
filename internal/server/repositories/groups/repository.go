package groups

import (
	"context"
	"time"

	"github.com/dmitrijs2005/subpool/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, group *models.Group) (*models.Group, error)
	GetByID(ctx context.Context, id string) (*models.Group, error)
	ClaimSlot(ctx context.Context, groupID string) (slotsFilled, slotsTotal int64, err error)
	ReleaseSlot(ctx context.Context, groupID string) (slotsFilled, slotsTotal int64, err error)
	SetStatus(ctx context.Context, groupID, status string) error
	UpdateStatusFrom(ctx context.Context, groupID, fromStatus, toStatus string) error
	SelectStale(ctx context.Context, createdBefore time.Time) ([]*models.Group, error)
}

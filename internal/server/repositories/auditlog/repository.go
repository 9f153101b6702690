package auditlog

import (
	"context"
	"time"

	"github.com/dmitrijs2005/subpool/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	SelectCreatedAfter(ctx context.Context, after time.Time) ([]*models.AuditEntry, error)
}

package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/subpool/internal/logging"
	"github.com/dmitrijs2005/subpool/internal/server/models"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/repomanager"
)

// Auditor appends entries to the audit trail. Writes are best-effort and run
// outside the primary business transaction: a failed audit write is logged
// and never fails the operation it describes.
type Auditor struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewAuditor(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *Auditor {
	return &Auditor{db: db, repomanager: m, logger: logger}
}

// Record appends a single audit entry.
func (a *Auditor) Record(ctx context.Context, action, actorID, subjectRef string) {
	repo := a.repomanager.AuditLog(a.db)
	err := repo.Append(ctx, &models.AuditEntry{
		Action:     action,
		ActorID:    actorID,
		SubjectRef: subjectRef,
	})
	if err != nil {
		a.logger.Warn(ctx, "audit write failed", "action", action, "error", err.Error())
	}
}

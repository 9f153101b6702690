// Package auditlog provides the PostgreSQL-backed repository for the
// append-only audit trail.
package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/subpool/internal/dbx"
	"github.com/dmitrijs2005/subpool/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	query :=
		`INSERT INTO audit_log (action, actor_id, subject_ref)
		 VALUES ($1, $2, $3)
		 `

	if _, err := r.db.ExecContext(ctx, query, e.Action, e.ActorID, e.SubjectRef); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SelectCreatedAfter(ctx context.Context, after time.Time) ([]*models.AuditEntry, error) {
	query :=
		`SELECT id, action, actor_id, subject_ref, created_at
		 FROM audit_log
		 WHERE created_at > $1
		 ORDER BY created_at
		 `

	rows, err := r.db.QueryContext(ctx, query, after)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit entries: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEntry
	for rows.Next() {
		var item models.AuditEntry
		if err := rows.Scan(
			&item.ID, &item.Action, &item.ActorID, &item.SubjectRef, &item.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

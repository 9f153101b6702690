// Package memberships provides the PostgreSQL-backed repository for group
// memberships. A partial unique index (one active membership per user per
// group) backs the insert; rows are soft-deleted, never removed, because
// historical ledger entries reference them.
package memberships

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/subpool/internal/common"
	"github.com/dmitrijs2005/subpool/internal/dbx"
	"github.com/dmitrijs2005/subpool/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an active membership. Losing a race against a concurrent
// join for the same user and group trips the partial unique index, which is
// reported as dbx.ErrRetry so the caller can re-check preconditions.
func (r *PostgresRepository) Create(ctx context.Context, m *models.Membership) (*models.Membership, error) {
	query :=
		`INSERT INTO memberships (user_id, group_id, kind, share_amount, is_active, end_date)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		m.UserID, m.GroupID, m.Kind, m.ShareAmount, m.IsActive, m.EndDate).Scan(&m.ID)

	if err != nil {
		if strings.Contains(err.Error(), "idx_memberships_active") {
			return nil, fmt.Errorf("%w: %w", dbx.ErrRetry, err)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return m, nil
}

func (r *PostgresRepository) GetActive(ctx context.Context, userID, groupID string) (*models.Membership, error) {
	query :=
		`SELECT id, user_id, group_id, kind, share_amount, is_active, end_date, created_at
		 FROM memberships
		 WHERE user_id = $1 AND group_id = $2 AND is_active
		 `

	m := &models.Membership{}
	err := r.db.QueryRowContext(ctx, query, userID, groupID).Scan(
		&m.ID, &m.UserID, &m.GroupID, &m.Kind, &m.ShareAmount,
		&m.IsActive, &m.EndDate, &m.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return m, nil
}

// Deactivate soft-deletes a membership. Zero rows affected means it was
// already inactive or never existed.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	query :=
		`UPDATE memberships SET is_active = FALSE
		 WHERE id = $1 AND is_active
		 `

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrInvalidState
	}
	return nil
}

func (r *PostgresRepository) SelectActiveByGroup(ctx context.Context, groupID string) ([]*models.Membership, error) {
	query :=
		`SELECT id, user_id, group_id, kind, share_amount, is_active, end_date, created_at
		 FROM memberships
		 WHERE group_id = $1 AND is_active
		 `

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to select memberships: %w", err)
	}
	defer rows.Close()

	var result []*models.Membership
	for rows.Next() {
		var item models.Membership
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.GroupID, &item.Kind, &item.ShareAmount,
			&item.IsActive, &item.EndDate, &item.CreatedAt,
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

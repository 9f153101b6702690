// Package grants provides the PostgreSQL-backed repository for credential
// access grants. The primary key on group_id plus a guarded upsert enforce
// the single-holder invariant: a live grant held by someone else blocks the
// write, while an expired row is overwritten as if it were absent.
package grants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

// Acquire installs or renews a grant. The upsert only applies when the
// existing row belongs to the same holder or has already expired; otherwise
// zero rows are affected and the acquisition fails with ErrAccessContended.
func (r *PostgresRepository) Acquire(ctx context.Context, g *models.AccessGrant) error {
	query := `
		INSERT INTO access_grants (group_id, holder_user_id, token, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id)
		DO UPDATE SET
			holder_user_id = EXCLUDED.holder_user_id,
			token = EXCLUDED.token,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at
			WHERE access_grants.holder_user_id = EXCLUDED.holder_user_id
			   OR access_grants.expires_at <= EXCLUDED.issued_at;
	`
	res, err := r.db.ExecContext(ctx, query,
		g.GroupID, g.HolderUserID, g.Token, g.IssuedAt, g.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrAccessContended
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// Release deletes the caller's own grant. Releasing a grant the caller does
// not hold is a no-op.
func (r *PostgresRepository) Release(ctx context.Context, groupID, holderUserID string) error {
	query :=
		`DELETE FROM access_grants
		 WHERE group_id = $1 AND holder_user_id = $2
		 `

	if _, err := r.db.ExecContext(ctx, query, groupID, holderUserID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByGroup(ctx context.Context, groupID string) (*models.AccessGrant, error) {
	query :=
		`SELECT group_id, holder_user_id, token, issued_at, expires_at
		 FROM access_grants
		 WHERE group_id = $1
		 `

	g := &models.AccessGrant{}
	err := r.db.QueryRowContext(ctx, query, groupID).Scan(
		&g.GroupID, &g.HolderUserID, &g.Token, &g.IssuedAt, &g.ExpiresAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return g, nil
}

// DeleteExpired removes stale grant rows. Purely storage hygiene; expired
// rows are already invisible to Acquire.
func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query :=
		`DELETE FROM access_grants
		 WHERE expires_at <= now()
		 `

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

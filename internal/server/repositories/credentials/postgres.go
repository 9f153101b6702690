// Package credentials provides the PostgreSQL-backed repository for
// encrypted group credentials. One row per group; rotation bumps key_version.
package credentials

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

func (r *PostgresRepository) Upsert(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO credentials (group_id, encrypted_blob, nonce, key_version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (group_id)
		DO UPDATE SET
			encrypted_blob = EXCLUDED.encrypted_blob,
			nonce = EXCLUDED.nonce,
			key_version = credentials.key_version + 1,
			updated_at = now();
	`
	res, err := r.db.ExecContext(ctx, query,
		c.GroupID, c.EncryptedBlob, c.Nonce, c.KeyVersion)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (r *PostgresRepository) GetByGroup(ctx context.Context, groupID string) (*models.Credential, error) {
	query :=
		`SELECT group_id, encrypted_blob, nonce, key_version, updated_at
		 FROM credentials
		 WHERE group_id = $1
		 `

	c := &models.Credential{}
	err := r.db.QueryRowContext(ctx, query, groupID).Scan(
		&c.GroupID, &c.EncryptedBlob, &c.Nonce, &c.KeyVersion, &c.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

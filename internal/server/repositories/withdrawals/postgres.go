// Package withdrawals provides the PostgreSQL-backed repository for cash-out
// requests and their per-user cooldowns.
package withdrawals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *PostgresRepository) Create(ctx context.Context, w *models.WithdrawalRequest) (*models.WithdrawalRequest, error) {
	query :=
		`INSERT INTO withdrawal_requests
		     (user_id, amount, encrypted_dest, dest_nonce, status, requested_at, cooldown_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		w.UserID, w.Amount, w.EncryptedDest, w.DestNonce,
		w.Status, w.RequestedAt, w.CooldownExpiresAt).Scan(&w.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return w, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	query :=
		`SELECT id, user_id, amount, encrypted_dest, dest_nonce, status, requested_at, cooldown_expires_at
		 FROM withdrawal_requests
		 WHERE id = $1
		 `

	w := &models.WithdrawalRequest{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.UserID, &w.Amount, &w.EncryptedDest, &w.DestNonce,
		&w.Status, &w.RequestedAt, &w.CooldownExpiresAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return w, nil
}

// HasActiveCooldown reports whether the user already has a request whose
// cooldown has not yet elapsed.
func (r *PostgresRepository) HasActiveCooldown(ctx context.Context, userID string, now time.Time) (bool, error) {
	query :=
		`SELECT EXISTS (
		     SELECT 1 FROM withdrawal_requests
		     WHERE user_id = $1 AND cooldown_expires_at > $2
		 )`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// UpdateStatusFrom moves a request between statuses, failing with
// ErrInvalidState unless it is currently in fromStatus. A request can only
// be approved or rejected once.
func (r *PostgresRepository) UpdateStatusFrom(ctx context.Context, id, fromStatus, toStatus string) error {
	query :=
		`UPDATE withdrawal_requests SET status = $3
		 WHERE id = $1 AND status = $2
		 `

	res, err := r.db.ExecContext(ctx, query, id, fromStatus, toStatus)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return common.ErrInvalidState
}

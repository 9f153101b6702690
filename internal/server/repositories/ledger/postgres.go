// Package ledger provides the PostgreSQL-backed repository for the
// append-only transaction ledger and payment-gateway credit events.
// Transactions are never updated or deleted.
package ledger

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

func (r *PostgresRepository) Append(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	query :=
		`INSERT INTO transactions (user_id, amount, type, status, counterparty_ref)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		t.UserID, t.Amount, t.Type, t.Status, t.CounterpartyRef).Scan(&t.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return t, nil
}

func (r *PostgresRepository) SelectByUser(ctx context.Context, userID string, since time.Time) ([]*models.Transaction, error) {
	query :=
		`SELECT id, user_id, amount, type, status, counterparty_ref, created_at
		 FROM transactions
		 WHERE user_id = $1 AND created_at >= $2
		 ORDER BY created_at
		 `

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select transactions: %w", err)
	}
	defer rows.Close()

	var result []*models.Transaction
	for rows.Next() {
		var item models.Transaction
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.Amount, &item.Type,
			&item.Status, &item.CounterpartyRef, &item.CreatedAt,
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

// InsertCreditEvent records a payment-gateway credit event. The idempotency
// key is the primary key; a replayed event inserts nothing and returns
// false, so the caller knows to skip the balance credit.
func (r *PostgresRepository) InsertCreditEvent(ctx context.Context, idempotencyKey, userID string, amount int64) (bool, error) {
	query := `
		INSERT INTO credit_events (idempotency_key, user_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (idempotency_key) DO NOTHING;
	`
	res, err := r.db.ExecContext(ctx, query, idempotencyKey, userID, amount)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

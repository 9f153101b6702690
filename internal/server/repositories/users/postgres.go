// Package users provides the PostgreSQL-backed repository for user accounts
// and their credit balances. Balance mutations are conditional updates so a
// balance can never go below zero, whatever the interleaving.
package users

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

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (credit_balance, is_active)
		 VALUES ($1, $2)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.CreditBalance, user.IsActive).Scan(&user.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT id, credit_balance, is_active, created_at FROM users
		 WHERE id = $1
		 `

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.CreditBalance, &user.IsActive, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

// Debit subtracts amount from the user's balance. The update only matches
// when the balance covers the amount; zero rows affected means either the
// user is unknown or the funds are insufficient.
func (r *PostgresRepository) Debit(ctx context.Context, userID string, amount int64) error {
	query :=
		`UPDATE users SET credit_balance = credit_balance - $2
		 WHERE id = $1 AND is_active AND credit_balance >= $2
		 `

	res, err := r.db.ExecContext(ctx, query, userID, amount)
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

	if _, err := r.GetByID(ctx, userID); err != nil {
		return err
	}
	return common.ErrInsufficientFunds
}

// Credit adds amount to the user's balance.
func (r *PostgresRepository) Credit(ctx context.Context, userID string, amount int64) error {
	query :=
		`UPDATE users SET credit_balance = credit_balance + $2
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

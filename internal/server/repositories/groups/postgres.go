// Package groups provides the PostgreSQL-backed repository for subscription
// groups. The slot counter is only ever touched through conditional updates,
// so concurrent joins can never push slots_filled past slots_total.
package groups

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

func (r *PostgresRepository) Create(ctx context.Context, group *models.Group) (*models.Group, error) {
	query :=
		`INSERT INTO groups (owner_id, total_price, slots_total, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		group.OwnerID, group.TotalPrice, group.SlotsTotal, group.Status).Scan(&group.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return group, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	query :=
		`SELECT id, owner_id, total_price, slots_total, slots_filled, status, created_at
		 FROM groups
		 WHERE id = $1
		 `

	group := &models.Group{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&group.ID, &group.OwnerID, &group.TotalPrice, &group.SlotsTotal,
		&group.SlotsFilled, &group.Status, &group.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return group, nil
}

// ClaimSlot increments slots_filled by one, but only while the group is
// active and below capacity. The returned counts reflect the row after the
// increment. When the update matches no row the reason is resolved by
// re-reading the group: ErrNotFound for an unknown id, ErrCapacityExceeded
// when every slot is taken, ErrInvalidState for any other status.
func (r *PostgresRepository) ClaimSlot(ctx context.Context, groupID string) (int64, int64, error) {
	query :=
		`UPDATE groups SET slots_filled = slots_filled + 1
		 WHERE id = $1 AND status = $2 AND slots_filled < slots_total
		 RETURNING slots_filled, slots_total
		 `

	var filled, total int64
	err := r.db.QueryRowContext(ctx, query, groupID, models.GroupStatusActive).Scan(&filled, &total)
	if err == nil {
		return filled, total, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("db error: %w", err)
	}

	group, err := r.GetByID(ctx, groupID)
	if err != nil {
		return 0, 0, err
	}
	if group.Status != models.GroupStatusActive && group.Status != models.GroupStatusFull {
		return 0, 0, common.ErrInvalidState
	}
	return 0, 0, common.ErrCapacityExceeded
}

// ReleaseSlot decrements slots_filled by one. Zero rows affected means the
// group is unknown or its counter is already at zero.
func (r *PostgresRepository) ReleaseSlot(ctx context.Context, groupID string) (int64, int64, error) {
	query :=
		`UPDATE groups SET slots_filled = slots_filled - 1
		 WHERE id = $1 AND slots_filled > 0
		 RETURNING slots_filled, slots_total
		 `

	var filled, total int64
	err := r.db.QueryRowContext(ctx, query, groupID).Scan(&filled, &total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, common.ErrInvalidState
		}
		return 0, 0, fmt.Errorf("db error: %w", err)
	}

	return filled, total, nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, groupID, status string) error {
	query :=
		`UPDATE groups SET status = $2
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, groupID, status)
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

// UpdateStatusFrom moves a group from one status to another, failing with
// ErrInvalidState when the group is not currently in fromStatus. This is
// what keeps admin approval/rejection and the failure sweep race-safe.
func (r *PostgresRepository) UpdateStatusFrom(ctx context.Context, groupID, fromStatus, toStatus string) error {
	query :=
		`UPDATE groups SET status = $3
		 WHERE id = $1 AND status = $2
		 `

	res, err := r.db.ExecContext(ctx, query, groupID, fromStatus, toStatus)
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

	if _, err := r.GetByID(ctx, groupID); err != nil {
		return err
	}
	return common.ErrInvalidState
}

// SelectStale returns groups still accepting members (open or active,
// not yet full) that were created before the given cutoff. Used by the
// failure sweep.
func (r *PostgresRepository) SelectStale(ctx context.Context, createdBefore time.Time) ([]*models.Group, error) {
	query :=
		`SELECT id, owner_id, total_price, slots_total, slots_filled, status, created_at
		 FROM groups
		 WHERE status IN ($1, $2) AND slots_filled < slots_total AND created_at < $3
		 `

	rows, err := r.db.QueryContext(ctx, query,
		models.GroupStatusOpen, models.GroupStatusActive, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to select groups: %w", err)
	}
	defer rows.Close()

	var result []*models.Group
	for rows.Next() {
		var item models.Group
		if err := rows.Scan(
			&item.ID, &item.OwnerID, &item.TotalPrice, &item.SlotsTotal,
			&item.SlotsFilled, &item.Status, &item.CreatedAt,
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

// Package postgres implements the on-call schedule repository on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/oncall"
)

// Repository implements oncall.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSchedule returns a schedule with layers (users ordered by position) and
// overrides.
func (r *Repository) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	var s domain.Schedule
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, timezone, created_at, updated_at
		FROM oncall_schedules WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Timezone, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oncall.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("query schedule: %w", err)
	}

	if s.Layers, err = r.listLayers(ctx, id); err != nil {
		return nil, err
	}
	if s.Overrides, err = r.listOverrides(ctx, id); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSchedules returns all schedules with layers and overrides.
func (r *Repository) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, timezone, created_at, updated_at
		FROM oncall_schedules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		var s domain.Schedule
		if err := rows.Scan(&s.ID, &s.Name, &s.Timezone, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range schedules {
		if schedules[i].Layers, err = r.listLayers(ctx, schedules[i].ID); err != nil {
			return nil, err
		}
		if schedules[i].Overrides, err = r.listOverrides(ctx, schedules[i].ID); err != nil {
			return nil, err
		}
	}
	return schedules, nil
}

func (r *Repository) listLayers(ctx context.Context, scheduleID string) ([]domain.RotationLayer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, schedule_id, name, rotation_start, ends_at, rotation_length_hours
		FROM rotation_layers WHERE schedule_id = $1 ORDER BY position`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query layers: %w", err)
	}
	defer rows.Close()

	var layers []domain.RotationLayer
	for rows.Next() {
		var l domain.RotationLayer
		if err := rows.Scan(&l.ID, &l.ScheduleID, &l.Name, &l.RotationStart, &l.EndsAt, &l.RotationLengthHours); err != nil {
			return nil, fmt.Errorf("scan layer: %w", err)
		}
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range layers {
		userRows, err := r.pool.Query(ctx, `
			SELECT user_id FROM rotation_layer_users
			WHERE layer_id = $1 ORDER BY position`, layers[i].ID)
		if err != nil {
			return nil, fmt.Errorf("query layer users: %w", err)
		}
		for userRows.Next() {
			var userID string
			if err := userRows.Scan(&userID); err != nil {
				userRows.Close()
				return nil, fmt.Errorf("scan layer user: %w", err)
			}
			layers[i].UserIDs = append(layers[i].UserIDs, userID)
		}
		err = userRows.Err()
		userRows.Close()
		if err != nil {
			return nil, err
		}
	}
	return layers, nil
}

func (r *Repository) listOverrides(ctx context.Context, scheduleID string) ([]domain.ScheduleOverride, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, schedule_id, user_id, replaces_user_id, starts_at, ends_at
		FROM schedule_overrides WHERE schedule_id = $1 ORDER BY starts_at`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []domain.ScheduleOverride
	for rows.Next() {
		var o domain.ScheduleOverride
		if err := rows.Scan(&o.ID, &o.ScheduleID, &o.UserID, &o.ReplacesUserID, &o.StartsAt, &o.EndsAt); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

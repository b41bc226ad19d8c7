// Package postgres implements the SLA marker repository on pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// Repository implements sla.MarkerRepository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TryMark inserts the marker. The unique constraint makes concurrent sweeps
// race safely: exactly one caller sees a new row.
func (r *Repository) TryMark(ctx context.Context, incidentID string, breachType domain.BreachType, kind string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO sla_warnings (incident_id, breach_type, kind, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (incident_id, breach_type, kind) DO NOTHING`,
		incidentID, breachType, kind)
	if err != nil {
		return false, fmt.Errorf("insert sla marker: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

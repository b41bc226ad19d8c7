// Package postgres implements the catalog repository on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/oncall-garden/internal/catalog"
	"github.com/bissquit/oncall-garden/internal/domain"
)

// Repository implements catalog.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const serviceColumns = `id, name, slug, description, team_id, escalation_policy_id,
	target_ack_minutes, target_resolve_minutes, notify_on_sla_breach, breach_channel,
	created_at, updated_at`

func scanService(row pgx.Row) (*domain.Service, error) {
	var s domain.Service
	err := row.Scan(&s.ID, &s.Name, &s.Slug, &s.Description, &s.TeamID, &s.EscalationPolicyID,
		&s.TargetAckMinutes, &s.TargetResolveMinutes, &s.NotifyOnSLABreach, &s.BreachChannel,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateService inserts a service.
func (r *Repository) CreateService(ctx context.Context, svc *domain.Service) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, name, slug, description, team_id, escalation_policy_id,
			target_ack_minutes, target_resolve_minutes, notify_on_sla_breach, breach_channel,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		svc.ID, svc.Name, svc.Slug, svc.Description, svc.TeamID, svc.EscalationPolicyID,
		svc.TargetAckMinutes, svc.TargetResolveMinutes, svc.NotifyOnSLABreach, svc.BreachChannel,
		svc.CreatedAt, svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

// GetService returns one service by ID.
func (r *Repository) GetService(ctx context.Context, id string) (*domain.Service, error) {
	svc, err := scanService(r.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrServiceNotFound
		}
		return nil, fmt.Errorf("query service: %w", err)
	}
	return svc, nil
}

// GetServiceBySlug returns one service by slug.
func (r *Repository) GetServiceBySlug(ctx context.Context, slug string) (*domain.Service, error) {
	svc, err := scanService(r.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrServiceNotFound
		}
		return nil, fmt.Errorf("query service by slug: %w", err)
	}
	return svc, nil
}

// ListServices returns all services ordered by name.
func (r *Repository) ListServices(ctx context.Context) ([]domain.Service, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	var services []domain.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, *svc)
	}
	return services, rows.Err()
}

// UpdateService rewrites the mutable columns of a service.
func (r *Repository) UpdateService(ctx context.Context, svc *domain.Service) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET name = $2, description = $3, team_id = $4, escalation_policy_id = $5,
			target_ack_minutes = $6, target_resolve_minutes = $7,
			notify_on_sla_breach = $8, breach_channel = $9, updated_at = $10
		WHERE id = $1`,
		svc.ID, svc.Name, svc.Description, svc.TeamID, svc.EscalationPolicyID,
		svc.TargetAckMinutes, svc.TargetResolveMinutes,
		svc.NotifyOnSLABreach, svc.BreachChannel, svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrServiceNotFound
	}
	return nil
}

// CreatePolicy inserts a policy.
func (r *Repository) CreatePolicy(ctx context.Context, policy *domain.EscalationPolicy) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escalation_policies (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		policy.ID, policy.Name, policy.Description, policy.CreatedAt, policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

// GetPolicy returns a policy with its steps ordered by step_order.
func (r *Repository) GetPolicy(ctx context.Context, id string) (*domain.EscalationPolicy, error) {
	var p domain.EscalationPolicy
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM escalation_policies WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("query policy: %w", err)
	}

	steps, err := r.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Steps = steps
	return &p, nil
}

// ListPolicies returns all policies with their steps.
func (r *Repository) ListPolicies(ctx context.Context) ([]domain.EscalationPolicy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM escalation_policies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var policies []domain.EscalationPolicy
	for rows.Next() {
		var p domain.EscalationPolicy
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range policies {
		steps, err := r.listSteps(ctx, policies[i].ID)
		if err != nil {
			return nil, err
		}
		policies[i].Steps = steps
	}
	return policies, nil
}

func (r *Repository) listSteps(ctx context.Context, policyID string) ([]domain.EscalationStep, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, policy_id, step_order, delay_minutes, target_type, target_id, notify_team_lead
		FROM escalation_steps WHERE policy_id = $1 ORDER BY step_order`, policyID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.EscalationStep
	for rows.Next() {
		var s domain.EscalationStep
		if err := rows.Scan(&s.ID, &s.PolicyID, &s.StepOrder, &s.DelayMinutes,
			&s.TargetType, &s.TargetID, &s.NotifyTeamLead); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// CreateStep inserts a step.
func (r *Repository) CreateStep(ctx context.Context, step *domain.EscalationStep) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escalation_steps (id, policy_id, step_order, delay_minutes,
			target_type, target_id, notify_team_lead)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		step.ID, step.PolicyID, step.StepOrder, step.DelayMinutes,
		step.TargetType, step.TargetID, step.NotifyTeamLead)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// DeleteStep removes one step.
func (r *Repository) DeleteStep(ctx context.Context, policyID, stepID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM escalation_steps WHERE policy_id = $1 AND id = $2`, policyID, stepID)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrStepNotFound
	}
	return nil
}

// ReplaceSteps atomically rewrites all steps of a policy.
func (r *Repository) ReplaceSteps(ctx context.Context, policyID string, steps []domain.EscalationStep) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback replace steps", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM escalation_steps WHERE policy_id = $1`, policyID); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	for _, step := range steps {
		if _, err := tx.Exec(ctx, `
			INSERT INTO escalation_steps (id, policy_id, step_order, delay_minutes,
				target_type, target_id, notify_team_lead)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			step.ID, policyID, step.StepOrder, step.DelayMinutes,
			step.TargetType, step.TargetID, step.NotifyTeamLead); err != nil {
			return fmt.Errorf("insert step %s: %w", step.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace steps: %w", err)
	}
	return nil
}

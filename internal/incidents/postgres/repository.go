// Package postgres implements the incidents repository on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/incidents"
)

// Repository implements incidents.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const incidentColumns = `id, service_id, title, description, urgency, status, dedup_key,
	assignee_id, team_id, escalation_state, escalation_step, next_escalation_at,
	escalation_processing_at, snoozed_until, acknowledged_at, resolved_at, created_at, updated_at`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(&inc.ID, &inc.ServiceID, &inc.Title, &inc.Description, &inc.Urgency, &inc.Status,
		&inc.DedupKey, &inc.AssigneeID, &inc.TeamID, &inc.EscalationState, &inc.EscalationStep,
		&inc.NextEscalationAt, &inc.ProcessingAt, &inc.SnoozedUntil, &inc.AcknowledgedAt,
		&inc.ResolvedAt, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// Create inserts a new incident.
func (r *Repository) Create(ctx context.Context, inc *domain.Incident) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO incidents (id, service_id, title, description, urgency, status, dedup_key,
			assignee_id, team_id, escalation_state, escalation_step, next_escalation_at,
			escalation_processing_at, snoozed_until, acknowledged_at, resolved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		inc.ID, inc.ServiceID, inc.Title, inc.Description, inc.Urgency, inc.Status, inc.DedupKey,
		inc.AssigneeID, inc.TeamID, inc.EscalationState, inc.EscalationStep, inc.NextEscalationAt,
		inc.ProcessingAt, inc.SnoozedUntil, inc.AcknowledgedAt, inc.ResolvedAt, inc.CreatedAt, inc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// Get returns one incident by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	inc, err := scanIncident(r.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("query incident: %w", err)
	}
	return inc, nil
}

// List returns incidents matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter incidents.ListFilter) ([]domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}
	n := 0

	if filter.ServiceID != "" {
		n++
		query += fmt.Sprintf(" AND service_id = $%d", n)
		args = append(args, filter.ServiceID)
	}
	if filter.Status != "" {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, filter.Status)
	}
	if filter.AssigneeID != "" {
		n++
		query += fmt.Sprintf(" AND assignee_id = $%d", n)
		args = append(args, filter.AssigneeID)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

func collectIncidents(rows pgx.Rows) ([]domain.Incident, error) {
	var out []domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

// Update rewrites all mutable incident fields.
func (r *Repository) Update(ctx context.Context, inc *domain.Incident) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE incidents
		SET title = $2, description = $3, urgency = $4, status = $5,
			assignee_id = $6, team_id = $7, escalation_state = $8, escalation_step = $9,
			next_escalation_at = $10, snoozed_until = $11, acknowledged_at = $12,
			resolved_at = $13, updated_at = $14
		WHERE id = $1`,
		inc.ID, inc.Title, inc.Description, inc.Urgency, inc.Status,
		inc.AssigneeID, inc.TeamID, inc.EscalationState, inc.EscalationStep,
		inc.NextEscalationAt, inc.SnoozedUntil, inc.AcknowledgedAt,
		inc.ResolvedAt, inc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// FindOpenByDedupKey returns the live incident holding a dedup key.
func (r *Repository) FindOpenByDedupKey(ctx context.Context, serviceID, dedupKey string) (*domain.Incident, error) {
	inc, err := scanIncident(r.pool.QueryRow(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE service_id = $1 AND dedup_key = $2 AND status != 'RESOLVED'
		LIMIT 1`, serviceID, dedupKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("query incident by dedup key: %w", err)
	}
	return inc, nil
}

// FindRecentlyResolved returns the most recently resolved incident with the
// dedup key whose resolution is at or after since.
func (r *Repository) FindRecentlyResolved(ctx context.Context, serviceID, dedupKey string, since time.Time) (*domain.Incident, error) {
	inc, err := scanIncident(r.pool.QueryRow(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE service_id = $1 AND dedup_key = $2 AND status = 'RESOLVED' AND resolved_at >= $3
		ORDER BY resolved_at DESC
		LIMIT 1`, serviceID, dedupKey, since))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("query resolved incident: %w", err)
	}
	return inc, nil
}

// ListDueEscalations returns IDs of open incidents whose escalation timer has
// elapsed, oldest timer first.
func (r *Repository) ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM incidents
		WHERE status = 'OPEN'
		  AND escalation_state != 'COMPLETED'
		  AND next_escalation_at IS NOT NULL
		  AND next_escalation_at <= $1
		ORDER BY next_escalation_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due escalations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan incident id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimEscalation takes the processing claim with a compare-and-set so only
// one sweep worker handles an incident at a time. Claims older than
// staleBefore belong to dead workers and may be taken over.
func (r *Repository) ClaimEscalation(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE incidents
		SET escalation_processing_at = $2
		WHERE id = $1
		  AND (escalation_processing_at IS NULL OR escalation_processing_at < $3)`,
		id, now, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim escalation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceEscalation moves the escalation bookkeeping without touching the
// rest of the row. The status guard makes a concurrent acknowledge or
// resolve win: escalation columns written by the responder's transition
// stay put and the sweep's write simply does not match.
func (r *Repository) AdvanceEscalation(ctx context.Context, id string, state domain.EscalationState, step int, nextAt *time.Time, assigneeID *string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE incidents
		SET escalation_state = $2, escalation_step = $3, next_escalation_at = $4,
			assignee_id = COALESCE(assignee_id, $5), updated_at = $6
		WHERE id = $1 AND status = 'OPEN' AND escalation_state != 'COMPLETED'`,
		id, state, step, nextAt, assigneeID, now)
	if err != nil {
		return false, fmt.Errorf("advance escalation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseEscalation clears the processing claim.
func (r *Repository) ReleaseEscalation(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE incidents SET escalation_processing_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release escalation: %w", err)
	}
	return nil
}

// ListActive returns all non-resolved incidents.
func (r *Repository) ListActive(ctx context.Context) ([]domain.Incident, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE status != 'RESOLVED'
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query active incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

// BulkAcknowledge acknowledges open and snoozed incidents in one statement.
// Already acknowledged and resolved incidents simply do not match.
func (r *Repository) BulkAcknowledge(ctx context.Context, ids []string, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE incidents
		SET status = 'ACKNOWLEDGED',
			acknowledged_at = COALESCE(acknowledged_at, $2),
			escalation_state = 'COMPLETED',
			next_escalation_at = NULL,
			snoozed_until = NULL,
			updated_at = $2
		WHERE id = ANY($1) AND status IN ('OPEN', 'SNOOZED')`,
		ids, now)
	if err != nil {
		return 0, fmt.Errorf("bulk acknowledge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnsnoozeDue reopens snoozed incidents whose timer elapsed and re-arms their
// escalation unless the chain already completed.
func (r *Repository) UnsnoozeDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE incidents
		SET status = 'OPEN',
			snoozed_until = NULL,
			next_escalation_at = CASE WHEN escalation_state != 'COMPLETED' THEN $1 END,
			updated_at = $1
		WHERE status = 'SNOOZED' AND snoozed_until IS NOT NULL AND snoozed_until <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, fmt.Errorf("unsnooze due: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan incident id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendEvent inserts an audit timeline entry.
func (r *Repository) AppendEvent(ctx context.Context, ev *domain.IncidentEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO incident_events (id, incident_id, kind, message, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.IncidentID, ev.Kind, ev.Message, ev.ActorID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert incident event: %w", err)
	}
	return nil
}

// ListEvents returns the audit timeline, oldest first.
func (r *Repository) ListEvents(ctx context.Context, incidentID string) ([]domain.IncidentEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, incident_id, kind, message, actor_id, created_at
		FROM incident_events
		WHERE incident_id = $1
		ORDER BY created_at`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query incident events: %w", err)
	}
	defer rows.Close()

	var out []domain.IncidentEvent
	for rows.Next() {
		var ev domain.IncidentEvent
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.Kind, &ev.Message, &ev.ActorID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan incident event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CreateAlert inserts a raw alert row.
func (r *Repository) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO alerts (id, incident_id, service_id, dedup_key, action, severity, summary, source, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		alert.ID, alert.IncidentID, alert.ServiceID, alert.DedupKey, alert.Action, alert.Severity,
		alert.Summary, alert.Source, alert.Payload, alert.Status, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlertsByIncident returns the alerts folded into an incident, oldest first.
func (r *Repository) ListAlertsByIncident(ctx context.Context, incidentID string) ([]domain.Alert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, incident_id, service_id, dedup_key, action, severity, summary, source, payload, status, created_at
		FROM alerts
		WHERE incident_id = $1
		ORDER BY created_at`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.ServiceID, &a.DedupKey, &a.Action, &a.Severity,
			&a.Summary, &a.Source, &a.Payload, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Package postgres implements the notifications repository on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/notifications"
)

// Repository implements notifications.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, incident_id, user_id, channel, recipient, subject, body,
	status, attempts, error_msg, sent_at, delivered_at, failed_at, created_at, updated_at`

func scan(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(&n.ID, &n.IncidentID, &n.UserID, &n.Channel, &n.Recipient, &n.Subject, &n.Body,
		&n.Status, &n.Attempts, &n.ErrorMsg, &n.SentAt, &n.DeliveredAt, &n.FailedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Create inserts a notification record.
func (r *Repository) Create(ctx context.Context, n *domain.Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, incident_id, user_id, channel, recipient, subject, body,
			status, attempts, error_msg, sent_at, delivered_at, failed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		n.ID, n.IncidentID, n.UserID, n.Channel, n.Recipient, n.Subject, n.Body,
		n.Status, n.Attempts, n.ErrorMsg, n.SentAt, n.DeliveredAt, n.FailedAt, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Update rewrites the delivery outcome of a notification.
func (r *Repository) Update(ctx context.Context, n *domain.Notification) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, attempts = $3, error_msg = $4, sent_at = $5, delivered_at = $6,
			failed_at = $7, updated_at = $8
		WHERE id = $1`,
		n.ID, n.Status, n.Attempts, n.ErrorMsg, n.SentAt, n.DeliveredAt, n.FailedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

// Get returns one notification by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// ListPending returns undelivered notifications, oldest first.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns+` FROM notifications
		WHERE status = 'PENDING' ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// ListByIncident returns an incident's notifications, newest first.
func (r *Repository) ListByIncident(ctx context.Context, incidentID string) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns+` FROM notifications
		WHERE incident_id = $1 ORDER BY created_at DESC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

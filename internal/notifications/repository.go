package notifications

import (
	"context"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// Repository persists notification records.
type Repository interface {
	Create(ctx context.Context, n *domain.Notification) error
	Update(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, id string) (*domain.Notification, error)
	ListByIncident(ctx context.Context, incidentID string) ([]domain.Notification, error)
	// ListPending returns undelivered records, oldest first, so deferred
	// dispatches are retried in arrival order.
	ListPending(ctx context.Context, limit int) ([]domain.Notification, error)
}

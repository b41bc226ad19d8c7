package incidents

import (
	"context"
	"time"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// ListFilter narrows incident listings.
type ListFilter struct {
	ServiceID  string
	Status     domain.IncidentStatus
	AssigneeID string
	Limit      int
	Offset     int
}

// Repository is the persistence boundary for incidents, their audit trail
// and raw alerts.
type Repository interface {
	Create(ctx context.Context, inc *domain.Incident) error
	Get(ctx context.Context, id string) (*domain.Incident, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Incident, error)
	Update(ctx context.Context, inc *domain.Incident) error

	// FindOpenByDedupKey returns the non-resolved incident holding the
	// dedup key for a service, or ErrIncidentNotFound.
	FindOpenByDedupKey(ctx context.Context, serviceID, dedupKey string) (*domain.Incident, error)
	// FindRecentlyResolved returns the most recently resolved incident
	// with the dedup key whose resolution is at or after since.
	FindRecentlyResolved(ctx context.Context, serviceID, dedupKey string, since time.Time) (*domain.Incident, error)

	// ListDueEscalations returns IDs of incidents whose escalation timer
	// has elapsed, oldest timer first.
	ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ClaimEscalation marks the incident as being processed by this
	// sweep. It succeeds when no claim exists or the existing claim is
	// older than staleBefore (a worker died mid-step).
	ClaimEscalation(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	// ReleaseEscalation clears the processing claim.
	ReleaseEscalation(ctx context.Context, id string) error
	// AdvanceEscalation writes the escalation bookkeeping columns only,
	// and only while the incident is still open with an active chain.
	// assigneeID, when non-nil, fills assignee_id if it is still empty.
	// It reports whether a row changed; false means a concurrent
	// acknowledge, resolve or snooze won and the chain must not move.
	AdvanceEscalation(ctx context.Context, id string, state domain.EscalationState, step int, nextAt *time.Time, assigneeID *string, now time.Time) (bool, error)

	// ListActive returns all non-resolved incidents.
	ListActive(ctx context.Context) ([]domain.Incident, error)
	// BulkAcknowledge acknowledges every listed incident that is open or
	// snoozed and reports how many rows changed.
	BulkAcknowledge(ctx context.Context, ids []string, now time.Time) (int64, error)
	// UnsnoozeDue reopens snoozed incidents whose timer has elapsed and
	// re-arms their escalation. It returns the affected IDs.
	UnsnoozeDue(ctx context.Context, now time.Time) ([]string, error)

	AppendEvent(ctx context.Context, ev *domain.IncidentEvent) error
	ListEvents(ctx context.Context, incidentID string) ([]domain.IncidentEvent, error)

	CreateAlert(ctx context.Context, alert *domain.Alert) error
	ListAlertsByIncident(ctx context.Context, incidentID string) ([]domain.Alert, error)
}

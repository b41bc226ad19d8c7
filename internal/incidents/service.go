// Package incidents owns the incident store and the manual lifecycle
// operations responders perform on it.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// Service implements incident lifecycle operations. Automatic transitions
// driven by inbound events live in the ingest package; this service covers
// what responders do through the operator API.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an incidents service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Get returns one incident.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.Get(ctx, id)
}

// List returns incidents matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.Incident, error) {
	return s.repo.List(ctx, filter)
}

// ListEvents returns the audit timeline of an incident.
func (s *Service) ListEvents(ctx context.Context, incidentID string) ([]domain.IncidentEvent, error) {
	if _, err := s.repo.Get(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, incidentID)
}

// ListAlerts returns the raw alerts folded into an incident.
func (s *Service) ListAlerts(ctx context.Context, incidentID string) ([]domain.Alert, error) {
	if _, err := s.repo.Get(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.ListAlertsByIncident(ctx, incidentID)
}

// transition validates and applies a status change with an audit entry.
// ErrSameStatus from the state machine is swallowed: the operation already
// holds, so retries and double-clicks succeed without touching the record.
func (s *Service) transition(ctx context.Context, id string, requested domain.IncidentStatus, actorID *string, mutate func(*domain.Incident)) (*domain.Incident, error) {
	inc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := domain.NextStatus(inc.Status, requested)
	if err != nil {
		if errors.Is(err, domain.ErrSameStatus) {
			return inc, nil
		}
		return nil, err
	}

	now := s.now().UTC()
	prev := inc.Status
	inc.ApplyStatus(next, now)
	if mutate != nil {
		mutate(inc)
	}

	if err := s.repo.Update(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	s.appendEvent(ctx, inc.ID, domain.EventKindStatusChange,
		fmt.Sprintf("status changed %s -> %s", prev, next), actorID)

	s.logger.Info("incident status changed",
		"incident_id", inc.ID, "from", prev, "to", next)
	return inc, nil
}

// Acknowledge marks the incident as being worked on and halts escalation.
// Acknowledging an already acknowledged or resolved incident is a no-op.
func (s *Service) Acknowledge(ctx context.Context, id string, actorID *string) (*domain.Incident, error) {
	return s.transition(ctx, id, domain.IncidentAcknowledged, actorID, func(inc *domain.Incident) {
		if actorID != nil && inc.AssigneeID == nil {
			inc.AssigneeID = actorID
		}
	})
}

const (
	minNoteLen = 10
	maxNoteLen = 1000
)

// Resolve closes the incident with a resolution note. Resolving an already
// resolved incident succeeds without rewriting the original note.
func (s *Service) Resolve(ctx context.Context, id, note string, actorID *string) (*domain.Incident, error) {
	note = strings.TrimSpace(note)
	if len(note) < minNoteLen || len(note) > maxNoteLen {
		return nil, ErrInvalidNote
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.IncidentResolved {
		// Already resolved. The original note stands.
		return current, nil
	}

	inc, err := s.transition(ctx, id, domain.IncidentResolved, actorID, nil)
	if err != nil {
		return nil, err
	}
	s.appendEvent(ctx, inc.ID, domain.EventKindNote, note, actorID)
	return inc, nil
}

// Snooze pauses the incident until the given time.
func (s *Service) Snooze(ctx context.Context, id string, until time.Time, actorID *string) (*domain.Incident, error) {
	if !until.After(s.now()) {
		return nil, ErrInvalidSnooze
	}
	return s.transition(ctx, id, domain.IncidentSnoozed, actorID, func(inc *domain.Incident) {
		u := until.UTC()
		inc.SnoozedUntil = &u
	})
}

// Unsnooze reopens a snoozed incident and resumes escalation at the step it
// was paused on.
func (s *Service) Unsnooze(ctx context.Context, id string, actorID *string) (*domain.Incident, error) {
	return s.transition(ctx, id, domain.IncidentOpen, actorID, func(inc *domain.Incident) {
		s.resumeEscalation(inc)
	})
}

// Suppress silences a noisy incident: it stays on the books but escalation
// pauses and no further notifications go out.
func (s *Service) Suppress(ctx context.Context, id string, actorID *string) (*domain.Incident, error) {
	return s.transition(ctx, id, domain.IncidentSuppressed, actorID, nil)
}

// Reopen moves an acknowledged or suppressed incident back to open.
func (s *Service) Reopen(ctx context.Context, id string, actorID *string) (*domain.Incident, error) {
	return s.transition(ctx, id, domain.IncidentOpen, actorID, func(inc *domain.Incident) {
		s.resumeEscalation(inc)
	})
}

// resumeEscalation re-arms a paused escalation timer so the current step
// fires on the next sweep. Completed chains stay completed.
func (s *Service) resumeEscalation(inc *domain.Incident) {
	if inc.EscalationState == domain.EscalationCompleted {
		return
	}
	now := s.now().UTC()
	inc.NextEscalationAt = &now
}

// Reassign hands the incident to another user and/or team.
func (s *Service) Reassign(ctx context.Context, id string, userID, teamID *string, actorID *string) (*domain.Incident, error) {
	if userID == nil && teamID == nil {
		return nil, ErrNoAssignee
	}

	inc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	inc.AssigneeID = userID
	if teamID != nil {
		inc.TeamID = teamID
	}
	inc.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	target := "team"
	if userID != nil {
		target = "user " + *userID
	} else if teamID != nil {
		target = "team " + *teamID
	}
	s.appendEvent(ctx, inc.ID, domain.EventKindAssigned, "reassigned to "+target, actorID)
	return inc, nil
}

// BulkAcknowledge acknowledges a set of incidents in one statement and
// returns how many actually transitioned. Resolved and already acknowledged
// incidents are skipped, not errors.
func (s *Service) BulkAcknowledge(ctx context.Context, ids []string, actorID *string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	count, err := s.repo.BulkAcknowledge(ctx, ids, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("bulk acknowledge: %w", err)
	}

	s.logger.Info("bulk acknowledge", "requested", len(ids), "acknowledged", count)
	return count, nil
}

// ProcessAutoUnsnooze reopens snoozed incidents whose timer elapsed. The
// escalation scheduler runs this at the start of every sweep.
func (s *Service) ProcessAutoUnsnooze(ctx context.Context) (int, error) {
	ids, err := s.repo.UnsnoozeDue(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("unsnooze due: %w", err)
	}
	for _, id := range ids {
		s.appendEvent(ctx, id, domain.EventKindStatusChange, "snooze expired, reopened", nil)
	}
	if len(ids) > 0 {
		s.logger.Info("auto-unsnooze", "count", len(ids))
	}
	return len(ids), nil
}

// appendEvent writes an audit entry; failures are logged, never fatal, so a
// flaky audit insert cannot roll back a state change that already happened.
func (s *Service) appendEvent(ctx context.Context, incidentID, kind, message string, actorID *string) {
	ev := &domain.IncidentEvent{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Kind:       kind,
		Message:    message,
		ActorID:    actorID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		s.logger.Error("append incident event", "incident_id", incidentID, "error", err)
	}
}

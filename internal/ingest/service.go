// Package ingest accepts events from monitoring integrations and folds them
// into incidents: deduplication, the reopen window and automatic
// acknowledge/resolve all live here.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/incidents"
)

// Event is a normalized inbound integration event.
type Event struct {
	Action        domain.EventAction
	DedupKey      string
	Summary       string
	Severity      domain.Severity
	Source        *string
	CustomDetails json.RawMessage
}

// Outcome names what intake did with an event.
type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeDeduplicated Outcome = "deduplicated"
	OutcomeReopened     Outcome = "reopened"
	OutcomeAcknowledged Outcome = "acknowledged"
	OutcomeResolved     Outcome = "resolved"
	// OutcomeIgnored covers acknowledge/resolve events that matched no open
	// incident. The integration gets a success either way: retries of an
	// already-applied event must not fail.
	OutcomeIgnored Outcome = "ignored"
)

// Result is returned to the integration in the intake response envelope.
// Action names what intake did with the event.
type Result struct {
	Action     Outcome `json:"action"`
	IncidentID *string `json:"incident_id,omitempty"`
	DedupKey   string  `json:"dedup_key,omitempty"`
}

// Catalog is the slice of the service catalog intake needs.
type Catalog interface {
	GetService(ctx context.Context, id string) (*domain.Service, error)
	GetPolicy(ctx context.Context, id string) (*domain.EscalationPolicy, error)
}

// Service processes inbound events.
type Service struct {
	repo         incidents.Repository
	catalog      Catalog
	reopenWindow time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates an intake service. reopenWindow bounds how long after
// resolution a repeated trigger reopens the old incident instead of opening
// a new one.
func NewService(repo incidents.Repository, catalog Catalog, reopenWindow time.Duration, logger *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		catalog:      catalog,
		reopenWindow: reopenWindow,
		logger:       logger,
		now:          time.Now,
	}
}

// ProcessEvent applies one integration event against the incident store.
func (s *Service) ProcessEvent(ctx context.Context, serviceID string, ev Event) (*Result, error) {
	if !ev.Action.IsValid() {
		return nil, ErrUnknownAction
	}
	if ev.Severity != "" && !ev.Severity.IsValid() {
		return nil, ErrUnknownSeverity
	}

	svc, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	switch ev.Action {
	case domain.EventTrigger:
		if ev.Summary == "" {
			return nil, ErrMissingSummary
		}
		return s.trigger(ctx, svc, ev)
	case domain.EventAcknowledge:
		return s.applyStatus(ctx, svc, ev, domain.IncidentAcknowledged, OutcomeAcknowledged)
	case domain.EventResolve:
		return s.applyStatus(ctx, svc, ev, domain.IncidentResolved, OutcomeResolved)
	}
	return nil, ErrUnknownAction
}

func (s *Service) trigger(ctx context.Context, svc *domain.Service, ev Event) (*Result, error) {
	now := s.now().UTC()

	if ev.DedupKey != "" {
		existing, err := s.repo.FindOpenByDedupKey(ctx, svc.ID, ev.DedupKey)
		if err == nil {
			s.recordAlert(ctx, svc.ID, &existing.ID, ev, domain.AlertTriggered)
			s.appendEvent(ctx, existing.ID, domain.EventKindRetriggered, "event re-triggered: "+ev.Summary)
			s.logger.Debug("event deduplicated",
				"service_id", svc.ID, "incident_id", existing.ID, "dedup_key", ev.DedupKey)
			return &Result{Action: OutcomeDeduplicated, IncidentID: &existing.ID, DedupKey: ev.DedupKey}, nil
		}
		if !errors.Is(err, incidents.ErrIncidentNotFound) {
			return nil, err
		}

		resolved, err := s.repo.FindRecentlyResolved(ctx, svc.ID, ev.DedupKey, now.Add(-s.reopenWindow))
		if err == nil {
			return s.reopen(ctx, svc, resolved, ev, now)
		}
		if !errors.Is(err, incidents.ErrIncidentNotFound) {
			return nil, err
		}
	}

	return s.create(ctx, svc, ev, now)
}

func (s *Service) create(ctx context.Context, svc *domain.Service, ev Event, now time.Time) (*Result, error) {
	inc := &domain.Incident{
		ID:        uuid.NewString(),
		ServiceID: svc.ID,
		Title:     ev.Summary,
		Urgency:   ev.Severity.Urgency(),
		Status:    domain.IncidentOpen,
		TeamID:    svc.TeamID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ev.DedupKey != "" {
		key := ev.DedupKey
		inc.DedupKey = &key
	}
	// Custom details from the integration become the initial description, so
	// responders see them without digging into the raw alert.
	if len(ev.CustomDetails) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, ev.CustomDetails, "", "  "); err == nil {
			desc := buf.String()
			inc.Description = &desc
		}
	}
	if err := s.armEscalation(ctx, svc, inc, now); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	s.recordAlert(ctx, svc.ID, &inc.ID, ev, domain.AlertTriggered)
	s.appendEvent(ctx, inc.ID, domain.EventKindTriggered, "incident triggered: "+ev.Summary)

	s.logger.Info("incident created",
		"incident_id", inc.ID, "service_id", svc.ID, "urgency", inc.Urgency)
	return &Result{Action: OutcomeCreated, IncidentID: &inc.ID, DedupKey: ev.DedupKey}, nil
}

// reopen revives a recently resolved incident for the same dedup key. The
// escalation chain restarts from step zero, timed from the reopen.
func (s *Service) reopen(ctx context.Context, svc *domain.Service, inc *domain.Incident, ev Event, now time.Time) (*Result, error) {
	inc.Status = domain.IncidentOpen
	inc.ResolvedAt = nil
	inc.SnoozedUntil = nil
	inc.UpdatedAt = now
	if err := s.armEscalation(ctx, svc, inc, now); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, inc); err != nil {
		return nil, fmt.Errorf("reopen incident: %w", err)
	}
	s.recordAlert(ctx, svc.ID, &inc.ID, ev, domain.AlertTriggered)
	s.appendEvent(ctx, inc.ID, domain.EventKindReopened, "incident reopened: "+ev.Summary)

	s.logger.Info("incident reopened", "incident_id", inc.ID, "service_id", svc.ID)
	return &Result{Action: OutcomeReopened, IncidentID: &inc.ID, DedupKey: ev.DedupKey}, nil
}

// armEscalation points the incident at step zero of the service's policy.
// Services without a policy, and policies without steps, complete at once.
func (s *Service) armEscalation(ctx context.Context, svc *domain.Service, inc *domain.Incident, now time.Time) error {
	inc.EscalationStep = 0
	inc.NextEscalationAt = nil
	inc.EscalationState = domain.EscalationCompleted

	if svc.EscalationPolicyID == nil {
		return nil
	}
	policy, err := s.catalog.GetPolicy(ctx, *svc.EscalationPolicyID)
	if err != nil {
		return fmt.Errorf("load escalation policy: %w", err)
	}
	delay, ok := policy.StepDelay(0)
	if !ok {
		return nil
	}

	next := now.Add(delay)
	inc.EscalationState = domain.EscalationPending
	inc.NextEscalationAt = &next
	return nil
}

// applyStatus handles acknowledge and resolve events. An event with no
// matching open incident is ignored, not an error.
func (s *Service) applyStatus(ctx context.Context, svc *domain.Service, ev Event, requested domain.IncidentStatus, outcome Outcome) (*Result, error) {
	alertStatus := domain.AlertTriggered
	if requested == domain.IncidentResolved {
		alertStatus = domain.AlertResolved
	}

	if ev.DedupKey == "" {
		s.recordAlert(ctx, svc.ID, nil, ev, alertStatus)
		return &Result{Action: OutcomeIgnored}, nil
	}

	inc, err := s.repo.FindOpenByDedupKey(ctx, svc.ID, ev.DedupKey)
	if err != nil {
		if errors.Is(err, incidents.ErrIncidentNotFound) {
			s.recordAlert(ctx, svc.ID, nil, ev, alertStatus)
			return &Result{Action: OutcomeIgnored, DedupKey: ev.DedupKey}, nil
		}
		return nil, err
	}

	next, err := domain.NextStatus(inc.Status, requested)
	if err != nil {
		if errors.Is(err, domain.ErrSameStatus) {
			s.recordAlert(ctx, svc.ID, &inc.ID, ev, alertStatus)
			return &Result{Action: OutcomeIgnored, IncidentID: &inc.ID, DedupKey: ev.DedupKey}, nil
		}
		return nil, err
	}

	prev := inc.Status
	inc.ApplyStatus(next, s.now().UTC())
	if err := s.repo.Update(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	s.recordAlert(ctx, svc.ID, &inc.ID, ev, alertStatus)
	s.appendEvent(ctx, inc.ID, domain.EventKindStatusChange,
		fmt.Sprintf("status changed %s -> %s by integration event", prev, next))

	s.logger.Info("incident updated by event",
		"incident_id", inc.ID, "service_id", svc.ID, "action", ev.Action)
	return &Result{Action: outcome, IncidentID: &inc.ID, DedupKey: ev.DedupKey}, nil
}

// recordAlert keeps the raw event for audit regardless of what intake
// decided. Failures are logged, never fatal.
func (s *Service) recordAlert(ctx context.Context, serviceID string, incidentID *string, ev Event, status domain.AlertStatus) {
	alert := &domain.Alert{
		ID:         uuid.NewString(),
		ServiceID:  serviceID,
		IncidentID: incidentID,
		Action:     ev.Action,
		Status:     status,
		Severity:   ev.Severity,
		Summary:    ev.Summary,
		Source:     ev.Source,
		Payload:    ev.CustomDetails,
		CreatedAt:  s.now().UTC(),
	}
	if ev.DedupKey != "" {
		key := ev.DedupKey
		alert.DedupKey = &key
	}
	if err := s.repo.CreateAlert(ctx, alert); err != nil {
		s.logger.Error("record alert", "service_id", serviceID, "error", err)
	}
}

func (s *Service) appendEvent(ctx context.Context, incidentID, kind, message string) {
	ev := &domain.IncidentEvent{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Kind:       kind,
		Message:    message,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		s.logger.Error("append incident event", "incident_id", incidentID, "error", err)
	}
}

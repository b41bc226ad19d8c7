// Package domain contains the shared domain model: incidents, services,
// escalation policies, on-call schedules, notifications and the incident
// state machine. Types here carry no persistence or transport concerns.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "OPEN"
	IncidentAcknowledged IncidentStatus = "ACKNOWLEDGED"
	IncidentResolved     IncidentStatus = "RESOLVED"
	IncidentSnoozed      IncidentStatus = "SNOOZED"
	IncidentSuppressed   IncidentStatus = "SUPPRESSED"
)

// IsValid checks if the status is a known value.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentOpen, IncidentAcknowledged, IncidentResolved, IncidentSnoozed, IncidentSuppressed:
		return true
	}
	return false
}

// IsActive reports whether the incident still needs responder attention.
// RESOLVED is the only terminal state.
func (s IncidentStatus) IsActive() bool {
	return s.IsValid() && s != IncidentResolved
}

// Urgency of an incident, derived from event severity at intake.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// IsValid checks if the urgency is a known value.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// EscalationState tracks where an incident sits in its escalation policy.
type EscalationState string

const (
	EscalationPending    EscalationState = "PENDING"
	EscalationInProgress EscalationState = "IN_PROGRESS"
	EscalationCompleted  EscalationState = "COMPLETED"
)

// IsValid checks if the escalation state is a known value.
func (s EscalationState) IsValid() bool {
	switch s {
	case EscalationPending, EscalationInProgress, EscalationCompleted:
		return true
	}
	return false
}

// Incident is a unit of responder work created from one or more alerts.
//
// EscalationStep is the index of the next policy step to fire.
// NextEscalationAt is nil when escalation is completed or paused
// (snoozed and suppressed incidents keep their step but lose the timer).
// ProcessingAt is a claim marker set by the escalation scheduler while a
// sweep worker owns the incident.
type Incident struct {
	ID               string          `json:"id"`
	ServiceID        string          `json:"service_id"`
	Title            string          `json:"title"`
	Description      *string         `json:"description"`
	Urgency          Urgency         `json:"urgency"`
	Status           IncidentStatus  `json:"status"`
	DedupKey         *string         `json:"dedup_key"`
	AssigneeID       *string         `json:"assignee_id"`
	TeamID           *string         `json:"team_id"`
	EscalationState  EscalationState `json:"escalation_state"`
	EscalationStep   int             `json:"escalation_step"`
	NextEscalationAt *time.Time      `json:"next_escalation_at"`
	ProcessingAt     *time.Time      `json:"-"`
	SnoozedUntil     *time.Time      `json:"snoozed_until"`
	AcknowledgedAt   *time.Time      `json:"acknowledged_at"`
	ResolvedAt       *time.Time      `json:"resolved_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// State machine errors. ErrSameStatus marks idempotent no-ops: callers are
// expected to treat it as success without touching the record.
var (
	ErrSameStatus        = errors.New("incident already in requested status")
	ErrInvalidTransition = errors.New("invalid incident status transition")
)

// transitions lists the allowed moves between statuses. RESOLVED is terminal
// here; reopening a resolved incident is a separate intake-side operation.
var transitions = map[IncidentStatus][]IncidentStatus{
	IncidentOpen:         {IncidentAcknowledged, IncidentResolved, IncidentSnoozed, IncidentSuppressed},
	IncidentAcknowledged: {IncidentOpen, IncidentResolved, IncidentSnoozed},
	IncidentSnoozed:      {IncidentOpen, IncidentAcknowledged, IncidentResolved},
	IncidentSuppressed:   {IncidentOpen, IncidentResolved},
	IncidentResolved:     {},
}

// CanTransitionTo reports whether a direct move from s to next is allowed.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NextStatus validates a requested status change. It returns ErrSameStatus
// when the incident is already in the requested state (or is resolved and the
// request would also close it), and ErrInvalidTransition for moves the state
// machine forbids.
func NextStatus(current, requested IncidentStatus) (IncidentStatus, error) {
	if !requested.IsValid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, requested)
	}
	if current == requested {
		return current, ErrSameStatus
	}
	if current == IncidentResolved {
		// Acknowledging or re-resolving a closed incident is a no-op,
		// not an error: intake retries must stay idempotent.
		if requested == IncidentAcknowledged || requested == IncidentResolved {
			return current, ErrSameStatus
		}
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, requested)
	}
	if !current.CanTransitionTo(requested) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, requested)
	}
	return requested, nil
}

// ApplyStatus moves the incident to the validated next status and maintains
// the dependent fields (timestamps, escalation pause/stop, snooze timer).
func (i *Incident) ApplyStatus(next IncidentStatus, now time.Time) {
	i.Status = next
	i.UpdatedAt = now

	switch next {
	case IncidentAcknowledged:
		if i.AcknowledgedAt == nil {
			t := now
			i.AcknowledgedAt = &t
		}
		i.StopEscalation()
	case IncidentResolved:
		t := now
		i.ResolvedAt = &t
		i.SnoozedUntil = nil
		i.StopEscalation()
	case IncidentSnoozed, IncidentSuppressed:
		// Escalation pauses: the step survives, the timer does not.
		i.NextEscalationAt = nil
	case IncidentOpen:
		i.SnoozedUntil = nil
	}
}

// StopEscalation terminates the escalation chain for good.
func (i *Incident) StopEscalation() {
	i.EscalationState = EscalationCompleted
	i.NextEscalationAt = nil
}

// EscalationDue reports whether the scheduler should process this incident.
func (i *Incident) EscalationDue(now time.Time) bool {
	if i.Status != IncidentOpen {
		return false
	}
	if i.EscalationState == EscalationCompleted || i.NextEscalationAt == nil {
		return false
	}
	return !i.NextEscalationAt.After(now)
}

package domain

import (
	"encoding/json"
	"time"
)

// EventAction is the verb carried by an inbound integration event.
type EventAction string

const (
	EventTrigger     EventAction = "trigger"
	EventAcknowledge EventAction = "acknowledge"
	EventResolve     EventAction = "resolve"
)

// IsValid checks if the event action is a known value.
func (a EventAction) IsValid() bool {
	switch a {
	case EventTrigger, EventAcknowledge, EventResolve:
		return true
	}
	return false
}

// Severity is the alert severity reported by the integration.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Urgency maps alert severity to incident urgency.
func (s Severity) Urgency() Urgency {
	switch s {
	case SeverityCritical:
		return UrgencyHigh
	case SeverityError:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// AlertStatus is the state of a raw alert row.
type AlertStatus string

const (
	AlertTriggered AlertStatus = "TRIGGERED"
	AlertResolved  AlertStatus = "RESOLVED"
)

// Alert is the raw record of a single inbound event, kept for audit even
// when the event deduplicated into an existing incident.
type Alert struct {
	ID         string          `json:"id"`
	ServiceID  string          `json:"service_id"`
	IncidentID *string         `json:"incident_id"`
	DedupKey   *string         `json:"dedup_key"`
	Action     EventAction     `json:"action"`
	Status     AlertStatus     `json:"status"`
	Severity   Severity        `json:"severity"`
	Summary    string          `json:"summary"`
	Source     *string         `json:"source"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IncidentEvent is an append-only audit entry on an incident timeline.
type IncidentEvent struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	ActorID    *string   `json:"actor_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Audit entry kinds.
const (
	EventKindTriggered    = "triggered"
	EventKindRetriggered  = "retriggered"
	EventKindReopened     = "reopened"
	EventKindStatusChange = "status_change"
	EventKindEscalated    = "escalated"
	EventKindAssigned     = "assigned"
	EventKindNote         = "note"
	EventKindSLAWarning   = "sla_warning"
	EventKindSLABreach    = "sla_breach"
)

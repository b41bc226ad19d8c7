package sla

import (
	"context"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// Marker kinds. Each (incident, breach type, kind) pair fires exactly once
// over the life of an incident.
const (
	MarkWarning = "warning"
	MarkBreach  = "breach"
)

// MarkerRepository persists which warnings and breaches have already fired,
// so restarts and concurrent sweeps cannot duplicate them.
type MarkerRepository interface {
	// TryMark records the marker and reports whether this call was the
	// first to do so.
	TryMark(ctx context.Context, incidentID string, breachType domain.BreachType, kind string) (bool, error)
}

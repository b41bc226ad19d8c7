package domain

import "time"

// BreachType names which SLA target an incident is at risk of missing.
type BreachType string

const (
	BreachAck     BreachType = "ack"
	BreachResolve BreachType = "resolve"
)

// IsValid checks if the breach type is a known value.
func (b BreachType) IsValid() bool {
	return b == BreachAck || b == BreachResolve
}

// BreachWarning describes an incident approaching (or past) an SLA deadline.
// TimeRemaining is negative once the deadline has been crossed.
type BreachWarning struct {
	IncidentID    string
	ServiceID     string
	BreachType    BreachType
	TargetMinutes int
	Deadline      time.Time
	TimeRemaining time.Duration
}

// Breached reports whether the deadline is already in the past.
func (w BreachWarning) Breached() bool {
	return w.TimeRemaining <= 0
}

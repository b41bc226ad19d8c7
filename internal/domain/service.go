package domain

import "time"

// Service is a monitored component that alerts are routed against.
//
// TargetAckMinutes and TargetResolveMinutes are SLA targets measured from
// incident creation; zero disables the corresponding check. BreachChannel is
// the notification channel used for SLA breach alerts.
type Service struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Slug                 string      `json:"slug"`
	Description          *string     `json:"description"`
	TeamID               *string     `json:"team_id"`
	EscalationPolicyID   *string     `json:"escalation_policy_id"`
	TargetAckMinutes     int         `json:"target_ack_minutes"`
	TargetResolveMinutes int         `json:"target_resolve_minutes"`
	NotifyOnSLABreach    bool        `json:"notify_on_sla_breach"`
	BreachChannel        ChannelType `json:"breach_channel"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// AckDeadline returns the acknowledgement deadline for an incident created
// at the given time, or false when no ack target is configured.
func (s *Service) AckDeadline(createdAt time.Time) (time.Time, bool) {
	if s.TargetAckMinutes <= 0 {
		return time.Time{}, false
	}
	return createdAt.Add(time.Duration(s.TargetAckMinutes) * time.Minute), true
}

// ResolveDeadline returns the resolution deadline for an incident created at
// the given time, or false when no resolve target is configured. The clock
// runs from creation, not from acknowledgement.
func (s *Service) ResolveDeadline(createdAt time.Time) (time.Time, bool) {
	if s.TargetResolveMinutes <= 0 {
		return time.Time{}, false
	}
	return createdAt.Add(time.Duration(s.TargetResolveMinutes) * time.Minute), true
}

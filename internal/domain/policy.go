package domain

import "time"

// TargetType identifies what an escalation step points at.
type TargetType string

const (
	TargetUser     TargetType = "USER"
	TargetTeam     TargetType = "TEAM"
	TargetSchedule TargetType = "SCHEDULE"
)

// IsValid checks if the target type is a known value.
func (t TargetType) IsValid() bool {
	switch t {
	case TargetUser, TargetTeam, TargetSchedule:
		return true
	}
	return false
}

// EscalationPolicy is an ordered chain of notification steps.
type EscalationPolicy struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description *string          `json:"description"`
	Steps       []EscalationStep `json:"steps"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// EscalationStep is one level of a policy. StepOrder is the dense 0-based
// position; DelayMinutes is the wait before this step fires, counted from
// the previous step (from incident creation for step 0).
type EscalationStep struct {
	ID             string     `json:"id"`
	PolicyID       string     `json:"policy_id"`
	StepOrder      int        `json:"step_order"`
	DelayMinutes   int        `json:"delay_minutes"`
	TargetType     TargetType `json:"target_type"`
	TargetID       string     `json:"target_id"`
	NotifyTeamLead bool       `json:"notify_team_lead"`
}

// Delay returns the step's wait as a duration.
func (s EscalationStep) Delay() time.Duration {
	return time.Duration(s.DelayMinutes) * time.Minute
}

// StepDelay returns the delay of step idx, or false when the policy has no
// such step.
func (p *EscalationPolicy) StepDelay(idx int) (time.Duration, bool) {
	if idx < 0 || idx >= len(p.Steps) {
		return 0, false
	}
	return p.Steps[idx].Delay(), true
}

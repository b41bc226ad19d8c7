package catalog

import "errors"

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrPolicyNotFound  = errors.New("escalation policy not found")
	ErrStepNotFound    = errors.New("escalation step not found")
	ErrSlugTaken       = errors.New("service slug already in use")
	ErrStepMismatch    = errors.New("reorder must include every step of the policy exactly once")
)

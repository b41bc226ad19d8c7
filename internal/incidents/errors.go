package incidents

import "errors"

var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrInvalidNote      = errors.New("resolution note must be between 10 and 1000 characters")
	ErrInvalidSnooze    = errors.New("snooze until must be in the future")
	ErrNoAssignee       = errors.New("reassign requires a user or a team")
)

package domain

import "time"

// Schedule is an on-call rotation made of layers plus one-off overrides.
type Schedule struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Timezone  string             `json:"timezone"`
	Layers    []RotationLayer    `json:"layers"`
	Overrides []ScheduleOverride `json:"overrides"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// RotationLayer rotates an ordered list of users in fixed-length shifts
// starting at RotationStart. EndsAt nil means the layer runs forever.
type RotationLayer struct {
	ID                  string     `json:"id"`
	ScheduleID          string     `json:"schedule_id"`
	Name                string     `json:"name"`
	RotationStart       time.Time  `json:"rotation_start"`
	EndsAt              *time.Time `json:"ends_at"`
	RotationLengthHours int        `json:"rotation_length_hours"`
	UserIDs             []string   `json:"user_ids"`
}

// ShiftLength returns the layer's shift length as a duration.
func (l RotationLayer) ShiftLength() time.Duration {
	return time.Duration(l.RotationLengthHours) * time.Hour
}

// ScheduleOverride substitutes a user for a time window. When ReplacesUserID
// is set the override only applies to blocks owned by that user; otherwise it
// shadows whoever the rotation would have produced.
type ScheduleOverride struct {
	ID             string    `json:"id"`
	ScheduleID     string    `json:"schedule_id"`
	UserID         string    `json:"user_id"`
	ReplacesUserID *string   `json:"replaces_user_id"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
}

// Covers reports whether the override window contains the instant.
func (o ScheduleOverride) Covers(at time.Time) bool {
	return !at.Before(o.StartsAt) && at.Before(o.EndsAt)
}

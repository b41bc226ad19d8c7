package domain

import "time"

// Role controls what a user may do through the operator API.
type Role string

const (
	RoleResponder Role = "responder"
	RoleOperator  Role = "operator"
	RoleAdmin     Role = "admin"
)

var roleRank = map[Role]int{
	RoleResponder: 1,
	RoleOperator:  2,
	RoleAdmin:     3,
}

// HasPermission reports whether the role grants at least the required role.
func (r Role) HasPermission(required Role) bool {
	return roleRank[r] >= roleRank[required]
}

// User is a responder that can be targeted by escalation steps.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Team groups responders; LeadID is the escalation contact when a step is
// configured to notify only the team lead.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	LeadID    *string   `json:"lead_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

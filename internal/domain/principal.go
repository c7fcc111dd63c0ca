package domain

// Role is the coarse privilege classification used for routing between views.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// Principal is the resolved identity of a caller for the lifetime of one request.
type Principal struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

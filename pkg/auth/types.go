package auth

import "time"

// Role represents the coarse account role. Ownership and membership are the
// primary authorization signal; the role only feeds admin-style gates.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleProjectOwner Role = "project_owner"
	RoleMember       Role = "member"
	RoleGuest        Role = "guest"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProjectOwner, RoleMember, RoleGuest:
		return true
	}
	return false
}

// User represents a user account
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName returns the user's display name
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

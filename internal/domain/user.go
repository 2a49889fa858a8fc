// Package domain holds the portal entities shared by the directory, the
// request ledger, the status resolver and the REST client.
package domain

import "strings"

// Role is the portal role of a user.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleCR    Role = "CR"
	RoleNonCR Role = "NON_CR"
)

// ParseRole maps a backend role string to a Role.
// Unknown or empty values are treated as NON_CR.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleCR:
		return RoleCR
	default:
		return RoleNonCR
	}
}

// User is a portal identity as issued by the backend.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// IsZero reports whether the user carries no identity.
func (u User) IsZero() bool {
	return u.ID == 0
}

// Is reports whether ref points at the same identity as u.
// A nil ref or a zero user never matches.
func (u User) Is(ref *User) bool {
	if ref == nil || u.IsZero() {
		return false
	}
	return ref.ID == u.ID
}

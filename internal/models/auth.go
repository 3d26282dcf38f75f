package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the roles carried by an authenticated principal.
type UserRole string

const (
	RoleAdmin  UserRole = "ADMIN"
	RoleWorker UserRole = "WORKER"
)

// Principal is the already-authenticated caller handed to the core.
type Principal struct {
	UserID string     `json:"userId"`
	Roles  []UserRole `json:"roles"`
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role UserRole) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// JWTClaims represents the JWT payload for access tokens issued by the
// identity provider in front of this service.
type JWTClaims struct {
	UserID string     `json:"user_id"`
	Roles  []UserRole `json:"roles"`
	// Role is accepted for tokens that only carry a single role.
	Role UserRole `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts validated claims into the core's principal.
func (c *JWTClaims) Principal() Principal {
	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	roles := make([]UserRole, 0, len(c.Roles)+1)
	seen := make(map[UserRole]struct{}, len(c.Roles)+1)
	for _, r := range append(append([]UserRole{}, c.Roles...), c.Role) {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		roles = append(roles, r)
	}
	return Principal{UserID: userID, Roles: roles}
}

// Package auth provides JWT authentication for the FlowDrop API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// Claims represents JWT claims for FlowDrop authentication.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the unique identifier (UUID) for the user.
	UserID string `json:"uid"`

	// Username is the human-readable username.
	Username string `json:"username"`

	// UserType is the user's storage tier and privilege level.
	UserType protocol.UserType `json:"usertype"`
}

// IsManager returns true for manager and master accounts.
func (c *Claims) IsManager() bool {
	return c.UserType.IsManager()
}

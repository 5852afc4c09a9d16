package session

import "github.com/flowdrop/flowdrop/pkg/protocol"

// Account is what the actor needs to know about an authenticated user.
type Account struct {
	Token  string
	Type   protocol.UserType
	Config protocol.UserConfig
}

// UserStore is the slice of the credential store the session layer
// consumes. The production implementation wraps the relational store;
// tests substitute in-memory fakes.
type UserStore interface {
	// Lookup resolves a username to its account material.
	Lookup(username string) (Account, error)

	// SaveConfig persists the user's client settings.
	SaveConfig(username string, cfg protocol.UserConfig) error

	// TouchLastLogin records a successful authentication.
	TouchLastLogin(username string) error
}

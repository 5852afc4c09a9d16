// Package store persists user accounts and their client configuration
// behind a GORM-backed relational store. SQLite is the single-node
// default; PostgreSQL is available for shared deployments.
package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// Sentinel errors returned by store operations.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is one account row. Config holds the serialized protocol.UserConfig
// so schema migrations never touch client preferences.
type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null;size:255" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Token        string     `gorm:"not null;size:64" json:"-"`
	UserType     string     `gorm:"default:User;size:50" json:"usertype"`
	Config       string     `json:"-"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Type returns the account's rank as a protocol.UserType.
func (u *User) Type() protocol.UserType {
	return protocol.UserType(u.UserType)
}

// UserConfig deserializes the stored client configuration, falling back
// to the defaults when the column is empty or corrupt.
func (u *User) UserConfig() protocol.UserConfig {
	if u.Config == "" {
		return protocol.DefaultUserConfig()
	}
	var cfg protocol.UserConfig
	if err := json.Unmarshal([]byte(u.Config), &cfg); err != nil {
		return protocol.DefaultUserConfig()
	}
	return cfg
}

// SetUserConfig serializes and stores the client configuration.
func (u *User) SetUserConfig(cfg protocol.UserConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize user config: %w", err)
	}
	u.Config = string(data)
	return nil
}

// MintToken derives a fresh opaque session token for the user.
// The token is what WebSocket clients present at Establish.
func MintToken(username string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read randomness: %w", err)
	}
	sum := sha256.Sum256(append([]byte(username), nonce...))
	return hex.EncodeToString(sum[:]), nil
}

// AllModels returns every model registered for auto-migration.
func AllModels() []any {
	return []any{&User{}}
}

// Package session implements the per-connection actors, the online
// registry and the dispatcher that fans control messages out to the
// right subset of live connections.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// UserCtx is the immutable identity of one live connection. EstablishT
// is a nanosecond timestamp minted at authentication time, so two
// concurrent logins of the same account never collide.
type UserCtx struct {
	Username   string
	Token      string
	UserAgent  string
	EstablishT int64

	hash string
}

// NewUserCtx mints an identity with a fresh EstablishT.
func NewUserCtx(username, token, userAgent string) UserCtx {
	return newUserCtxAt(username, token, userAgent, time.Now().UnixNano())
}

func newUserCtxAt(username, token, userAgent string, establishT int64) UserCtx {
	ctx := UserCtx{
		Username:   username,
		Token:      token,
		UserAgent:  userAgent,
		EstablishT: establishT,
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%s%d", username, token, establishT)))
	ctx.hash = hex.EncodeToString(sum[:])
	return ctx
}

// Hash is the externally visible handle for this identity.
func (c UserCtx) Hash() string {
	return c.hash
}

// Client is the wire-facing projection of this identity.
func (c UserCtx) Client() protocol.Client {
	return protocol.Client{Username: c.Username, UserCtxHash: c.hash}
}

// Equal reports whether two identities match on all four attributes.
func (c UserCtx) Equal(other UserCtx) bool {
	return c.Username == other.Username &&
		c.Token == other.Token &&
		c.UserAgent == other.UserAgent &&
		c.EstablishT == other.EstablishT
}

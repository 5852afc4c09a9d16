package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserCtxHashIsStable(t *testing.T) {
	a := newUserCtxAt("alice", "tok", "ua", 42)
	b := newUserCtxAt("alice", "tok", "ua", 42)

	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 64)
	assert.True(t, a.Equal(b))
}

func TestUserCtxFreshEstablishTDiffers(t *testing.T) {
	a := NewUserCtx("alice", "tok", "ua")
	b := NewUserCtx("alice", "tok", "ua")

	// Nanosecond stamps from consecutive calls never collide in practice.
	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestUserCtxEqualChecksAllAttributes(t *testing.T) {
	base := newUserCtxAt("alice", "tok", "ua", 1)

	assert.False(t, base.Equal(newUserCtxAt("bob", "tok", "ua", 1)))
	assert.False(t, base.Equal(newUserCtxAt("alice", "other", "ua", 1)))
	assert.False(t, base.Equal(newUserCtxAt("alice", "tok", "curl", 1)))
	assert.False(t, base.Equal(newUserCtxAt("alice", "tok", "ua", 2)))
}

func TestUserCtxClient(t *testing.T) {
	ctx := newUserCtxAt("alice", "tok", "ua", 1)
	client := ctx.Client()

	assert.Equal(t, "alice", client.Username)
	assert.Equal(t, ctx.Hash(), client.UserCtxHash)
}

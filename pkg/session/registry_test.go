package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCountersTrackInsertsAndRemovals(t *testing.T) {
	r := NewRegistry()

	a1 := newUserCtxAt("alice", "tok", "ua", 1)
	a2 := newUserCtxAt("alice", "tok", "ua", 2)
	b1 := newUserCtxAt("bob", "tok", "ua", 3)

	r.Insert(a1, NewMailbox(1))
	r.Insert(a2, NewMailbox(1))
	r.Insert(b1, NewMailbox(1))

	assert.Equal(t, uint64(2), r.OnlineUsers())
	assert.Equal(t, uint64(3), r.OnlineClients())
	assert.Len(t, r.Snapshot(), 3)
	assert.Len(t, r.ByUsername("alice"), 2)

	require.True(t, r.Remove(a1))
	assert.Equal(t, uint64(2), r.OnlineUsers())
	assert.Equal(t, uint64(2), r.OnlineClients())

	// Removing the last alice session drops the username.
	require.True(t, r.Remove(a2))
	assert.Equal(t, uint64(1), r.OnlineUsers())
	assert.Equal(t, uint64(1), r.OnlineClients())
	assert.Empty(t, r.ByUsername("alice"))

	require.True(t, r.Remove(b1))
	assert.Zero(t, r.OnlineUsers())
	assert.Zero(t, r.OnlineClients())
	assert.Empty(t, r.Snapshot())
}

func TestRegistryDuplicateInsertPanics(t *testing.T) {
	r := NewRegistry()
	ctx := newUserCtxAt("alice", "tok", "ua", 1)
	r.Insert(ctx, NewMailbox(1))

	assert.Panics(t, func() {
		r.Insert(ctx, NewMailbox(1))
	})
}

func TestRegistrySameUserDistinctEstablishT(t *testing.T) {
	r := NewRegistry()
	r.Insert(newUserCtxAt("alice", "tok", "ua", 1), NewMailbox(1))

	assert.NotPanics(t, func() {
		r.Insert(newUserCtxAt("alice", "tok", "ua", 2), NewMailbox(1))
	})
	assert.Equal(t, uint64(1), r.OnlineUsers())
	assert.Equal(t, uint64(2), r.OnlineClients())
}

func TestRegistryRemoveAbsentReportsFalse(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Remove(newUserCtxAt("ghost", "tok", "ua", 1)))
}

func TestRegistrySnapshotIsDetached(t *testing.T) {
	r := NewRegistry()
	ctx := newUserCtxAt("alice", "tok", "ua", 1)
	r.Insert(ctx, NewMailbox(1))

	snap := r.Snapshot()
	require.True(t, r.Remove(ctx))

	// The earlier snapshot still holds the entry.
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Ctx.Equal(ctx))
}

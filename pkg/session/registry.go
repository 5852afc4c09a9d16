package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flowdrop/flowdrop/pkg/metrics"
)

// Entry pairs a registered identity with the deliver-sink of its
// session. The registry never holds the session itself, only the sink,
// so sessions and registry have no cyclic ownership.
type Entry struct {
	Ctx  UserCtx
	Sink *Mailbox
}

// Registry maps each username to the ordered list of its live
// sessions. Writes are serialized; reads take snapshots so callers
// never iterate under the lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]Entry

	onlineUsers   atomic.Int64
	onlineClients atomic.Int64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]Entry)}
}

// Insert registers an identity. Inserting an identity equal to one
// already registered under the same username is a programmer error and
// panics; EstablishT uniqueness is supposed to rule it out.
func (r *Registry) Insert(ctx UserCtx, sink *Mailbox) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[ctx.Username]
	for _, entry := range list {
		if entry.Ctx.Equal(ctx) {
			panic(fmt.Sprintf("session: duplicate registry insert for %s (hash %s)",
				ctx.Username, ctx.Hash()))
		}
	}

	if len(list) == 0 {
		r.onlineUsers.Add(1)
		metrics.OnlineUsers.Inc()
	}
	r.entries[ctx.Username] = append(list, Entry{Ctx: ctx, Sink: sink})
	r.onlineClients.Add(1)
	metrics.OnlineClients.Inc()
}

// Remove deletes an identity and reports whether it was present.
// Removing the last session of a user drops the username key entirely.
func (r *Registry) Remove(ctx UserCtx) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[ctx.Username]
	for i, entry := range list {
		if !entry.Ctx.Equal(ctx) {
			continue
		}

		list = append(list[:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.entries, ctx.Username)
			r.onlineUsers.Add(-1)
			metrics.OnlineUsers.Dec()
		} else {
			r.entries[ctx.Username] = list
		}
		r.onlineClients.Add(-1)
		metrics.OnlineClients.Dec()
		return true
	}
	return false
}

// Snapshot returns every live entry across all usernames.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, r.onlineClients.Load())
	for _, list := range r.entries {
		out = append(out, list...)
	}
	return out
}

// ByUsername returns the ordered entries of one user.
func (r *Registry) ByUsername(username string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.entries[username]
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

// OnlineUsers is the number of usernames with at least one session.
func (r *Registry) OnlineUsers() uint64 {
	return uint64(r.onlineUsers.Load())
}

// OnlineClients is the total number of live sessions.
func (r *Registry) OnlineClients() uint64 {
	return uint64(r.onlineClients.Load())
}

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// fixture builds a reference registry: alice with two sessions, bob
// with one, and the manager carol with one.
type fixture struct {
	dispatcher *Dispatcher
	a1, a2     UserCtx
	b1, c1     UserCtx
	mailboxes  map[string]*Mailbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := NewRegistry()
	f := &fixture{
		a1:        newUserCtxAt("alice", "tok-a", "ua", 1),
		a2:        newUserCtxAt("alice", "tok-a", "ua", 2),
		b1:        newUserCtxAt("bob", "tok-b", "ua", 3),
		c1:        newUserCtxAt("carol", "tok-c", "ua", 4),
		mailboxes: make(map[string]*Mailbox),
	}
	for _, ctx := range []UserCtx{f.a1, f.a2, f.b1, f.c1} {
		mbox := NewMailbox(8)
		reg.Insert(ctx, mbox)
		f.mailboxes[ctx.Hash()] = mbox
	}
	f.dispatcher = NewDispatcher(reg)
	return f
}

// received drains each mailbox and returns the set of hashes that got
// the envelope.
func (f *fixture) received() map[string][]protocol.Envelope {
	out := make(map[string][]protocol.Envelope)
	for hash, mbox := range f.mailboxes {
		for {
			select {
			case env := <-mbox.ch:
				out[hash] = append(out[hash], env)
				continue
			default:
			}
			break
		}
	}
	return out
}

func (f *fixture) dispatch(origin UserCtx, kind protocol.PolicyKind) {
	f.dispatcher.Dispatch(protocol.Envelope{
		Sender: protocol.UserSender(origin.Client()),
		Msg:    protocol.NewText("hi"),
		Policy: protocol.PolicyOf(kind),
	})
}

func TestDispatchBroadcast(t *testing.T) {
	f := newFixture(t)
	f.dispatch(f.a1, protocol.Broadcast)

	got := f.received()
	assert.Len(t, got, 4)
}

func TestDispatchBroadcastExceptMe(t *testing.T) {
	f := newFixture(t)
	f.dispatch(f.a1, protocol.BroadcastExceptMe)

	got := f.received()
	assert.Len(t, got, 3)
	assert.NotContains(t, got, f.a1.Hash())
}

func TestDispatchBroadcastSameUser(t *testing.T) {
	f := newFixture(t)
	f.dispatch(f.a1, protocol.BroadcastSameUser)

	got := f.received()
	assert.Len(t, got, 2)
	assert.Contains(t, got, f.a1.Hash())
	assert.Contains(t, got, f.a2.Hash())
}

func TestDispatchBroadcastSameUserExceptMe(t *testing.T) {
	f := newFixture(t)
	f.dispatch(f.a1, protocol.BroadcastSameUserExceptMe)

	got := f.received()
	assert.Len(t, got, 1)
	assert.Contains(t, got, f.a2.Hash())
}

func TestDispatchTargets(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Dispatch(protocol.Envelope{
		Sender: protocol.UserSender(f.a1.Client()),
		Msg:    protocol.NewText("hi"),
		Policy: protocol.TargetsPolicy(f.b1.Client(), f.c1.Client()),
	})

	got := f.received()
	assert.Len(t, got, 2)
	assert.Contains(t, got, f.b1.Hash())
	assert.Contains(t, got, f.c1.Hash())
}

func TestDispatchServerPolicyIsNotDelivered(t *testing.T) {
	f := newFixture(t)
	f.dispatch(f.a1, protocol.Server)

	assert.Empty(t, f.received())
}

func TestDispatchRewritesPolicyPerRecipient(t *testing.T) {
	f := newFixture(t)
	f.dispatch(f.a1, protocol.BroadcastSameUser)

	for hash, envs := range f.received() {
		require.Len(t, envs, 1)
		env := envs[0]
		require.Equal(t, protocol.Targets, env.Policy.Kind)
		require.Len(t, env.Policy.Targets, 1)
		assert.Equal(t, hash, env.Policy.Targets[0].UserCtxHash)
	}
}

func TestMailboxDropsWhenFull(t *testing.T) {
	mbox := NewMailbox(1)
	env := protocol.Envelope{Msg: protocol.NewText("x")}

	assert.True(t, mbox.Enqueue(env))
	assert.False(t, mbox.Enqueue(env))

	// Draining frees the slot again.
	<-mbox.C()
	assert.True(t, mbox.Enqueue(env))
}

package session

import (
	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/metrics"
	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// Dispatcher resolves an envelope's dispatch policy against the
// registry and enqueues a copy to every matching session's mailbox.
// It also serves the upload engine, which emits slice-status and
// nudge envelopes through the same fan-out.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher returns a dispatcher over the given registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch delivers the envelope per its policy. The origin session,
// where a policy needs one, is identified by the sender's client
// projection. Each recipient sees the policy rewritten to target
// itself alone.
func (d *Dispatcher) Dispatch(env protocol.Envelope) {
	origin := env.Sender.Client

	var recipients []Entry
	switch env.Policy.Kind {
	case protocol.Broadcast:
		recipients = d.registry.Snapshot()

	case protocol.BroadcastExceptMe:
		for _, entry := range d.registry.Snapshot() {
			if entry.Ctx.Hash() != origin.UserCtxHash {
				recipients = append(recipients, entry)
			}
		}

	case protocol.BroadcastSameUser:
		recipients = d.registry.ByUsername(origin.Username)

	case protocol.BroadcastSameUserExceptMe:
		for _, entry := range d.registry.ByUsername(origin.Username) {
			if entry.Ctx.Hash() != origin.UserCtxHash {
				recipients = append(recipients, entry)
			}
		}

	case protocol.Targets:
		wanted := make(map[string]bool, len(env.Policy.Targets))
		for _, target := range env.Policy.Targets {
			wanted[target.UserCtxHash] = true
		}
		for _, entry := range d.registry.Snapshot() {
			if wanted[entry.Ctx.Hash()] {
				recipients = append(recipients, entry)
			}
		}

	case protocol.Server:
		// Server-policy envelopes are interpreted inside the session
		// actor that received them and never reach the fan-out.
		logger.Warn("server-policy envelope reached the dispatcher, dropped",
			"msg_kind", env.Msg.Kind)
		return

	default:
		logger.Warn("envelope with unknown policy dropped", "policy", env.Policy.Kind)
		return
	}

	for _, entry := range recipients {
		out := env
		out.Policy = protocol.TargetsPolicy(entry.Ctx.Client())
		if entry.Sink.Enqueue(out) {
			metrics.MessagesDelivered.Inc()
		}
	}
}

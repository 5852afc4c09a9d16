package session

import (
	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/metrics"
	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// DefaultMailboxSize bounds how many undelivered envelopes a session
// may buffer before the dispatcher starts dropping.
const DefaultMailboxSize = 64

// Mailbox is the deliver-sink the registry hands out for a session.
// Enqueue never blocks; a full mailbox drops the envelope so a slow
// connection cannot stall the dispatcher.
type Mailbox struct {
	ch chan protocol.Envelope
}

// NewMailbox returns a mailbox buffering up to size envelopes.
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Mailbox{ch: make(chan protocol.Envelope, size)}
}

// Enqueue offers an envelope without blocking. Returns false when the
// mailbox is full and the envelope was dropped.
func (m *Mailbox) Enqueue(env protocol.Envelope) bool {
	select {
	case m.ch <- env:
		return true
	default:
		metrics.MessagesDropped.Inc()
		logger.Warn("mailbox full, envelope dropped", "msg_kind", env.Msg.Kind)
		return false
	}
}

// C exposes the receive side for the session's writer goroutine.
func (m *Mailbox) C() <-chan protocol.Envelope {
	return m.ch
}

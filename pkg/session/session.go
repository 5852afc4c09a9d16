package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/files"
	"github.com/flowdrop/flowdrop/pkg/metrics"
	"github.com/flowdrop/flowdrop/pkg/protocol"
	"github.com/flowdrop/flowdrop/pkg/upload"
)

const (
	// pingInterval is how often the writer probes a quiet peer.
	pingInterval = 5 * time.Second

	// idleTimeout closes the session when no peer activity arrives.
	idleTimeout = 30 * time.Second

	writeTimeout = 10 * time.Second
)

const (
	notifyManagerEnter = "Enter the site!"
	notifyManagerLeave = "Leave the site!"
	notifyUserEnter    = "your account login at another place!"
	notifyUserLeave    = "your account leave at another place!"
)

type state int

const (
	stateOpening state = iota
	stateAuthenticated
	stateClosing
)

// Deps are the collaborators a session needs. One value is shared by
// every session of the process.
type Deps struct {
	Registry    *Registry
	Dispatcher  *Dispatcher
	Coordinator *upload.Coordinator
	Users       UserStore
	Root        *files.Root

	// MailboxSize overrides DefaultMailboxSize when positive.
	MailboxSize int
}

// Session is the actor owning one WebSocket connection. The goroutine
// calling Run owns the read side and the control state machine; a
// single writer goroutine serializes all outbound frames.
type Session struct {
	deps      Deps
	conn      *websocket.Conn
	userAgent string

	mailbox *Mailbox
	state   state
	ctx     UserCtx
	account Account

	lastActivity atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// New wraps an upgraded connection in a session actor. Call Run to
// start serving it.
func New(deps Deps, conn *websocket.Conn, userAgent string) *Session {
	size := deps.MailboxSize
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Session{
		deps:      deps,
		conn:      conn,
		userAgent: userAgent,
		mailbox:   NewMailbox(size),
		done:      make(chan struct{}),
	}
}

// Run serves the connection until the peer goes away, the idle timeout
// fires, or a fatal error occurs. It always cleans up registry and
// upload state before returning.
func (s *Session) Run() {
	s.touch()
	s.conn.SetPingHandler(func(string) error {
		s.touch()
		return s.conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(writeTimeout))
	})
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	go s.writeLoop()
	defer s.close()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			logger.Debug("session read ended", "error", err)
			return
		}
		s.touch()

		switch msgType {
		case websocket.TextMessage:
			if err := s.handleEnvelope(data); err != nil {
				logger.Warn("session closing on fatal error",
					"username", s.ctx.Username,
					"error", err)
				return
			}
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) idleFor() time.Duration {
	return time.Duration(time.Now().UnixNano() - s.lastActivity.Load())
}

// writeLoop is the only goroutine writing to the connection. It drains
// the mailbox, probes the peer every pingInterval and enforces the
// idle timeout.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-s.mailbox.C():
			data, err := protocol.EncodeEnvelope(env)
			if err != nil {
				logger.Error("failed to encode envelope", "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("session write failed", "error", err)
				_ = s.conn.Close()
				return
			}

		case <-ticker.C:
			if s.idleFor() > idleTimeout {
				logger.Info("session idle timeout", "username", s.ctx.Username)
				_ = s.conn.Close()
				return
			}
			_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))

		case <-s.done:
			return
		}
	}
}

// close runs the terminal transition exactly once: deregister, scrub
// in-flight uploads, release the transport.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()

		if s.state != stateAuthenticated {
			return
		}
		s.state = stateClosing

		if !s.deps.Registry.Remove(s.ctx) {
			panic(fmt.Sprintf("session: %s (hash %s) missing from registry at close",
				s.ctx.Username, s.ctx.Hash()))
		}
		s.deps.Coordinator.AbortSession(s.ctx.Hash())
		logger.Info("session closed", "username", s.ctx.Username, "user_ctx_hash", s.ctx.Hash())
	})
}

// reply enqueues an envelope for this session only, bypassing the
// dispatcher so it also works before the session is registered.
func (s *Session) reply(sender protocol.Sender, msg protocol.Message) {
	s.mailbox.Enqueue(protocol.Envelope{
		Sender: sender,
		Msg:    msg,
		Policy: protocol.TargetsPolicy(s.ctx.Client()),
	})
}

func (s *Session) replyMalformed(reason string) {
	s.reply(protocol.ServerSender(), protocol.NewErrjson(reason))
}

// selfSender tags outbound envelopes with this session's identity.
func (s *Session) selfSender() protocol.Sender {
	if s.account.Type.IsManager() {
		return protocol.ManagerSender(s.ctx.Client())
	}
	return protocol.UserSender(s.ctx.Client())
}

// handleEnvelope runs one inbound control message through the state
// machine. A non-nil return closes the session.
func (s *Session) handleEnvelope(data []byte) error {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		s.replyMalformed(fmt.Sprintf("invalid envelope: %v", err))
		return nil
	}

	switch env.Msg.Kind {
	case protocol.KindEstablish:
		return s.handleEstablish(env, true)
	case protocol.KindReconnect:
		return s.handleEstablish(env, false)
	}

	if s.state != stateAuthenticated {
		s.replyMalformed("session not established")
		return nil
	}

	switch env.Msg.Kind {
	case protocol.KindLeave:
		s.handleLeave()
	case protocol.KindHeartBeat:
		s.handleHeartBeat(env)
	case protocol.KindFileRequest:
		s.handleFileRequest(env)
	case protocol.KindFileResponse:
		s.handleFileResponse(env)
	case protocol.KindCreateWsWorker, protocol.KindText:
		// Opaque to the server, echoed back to the sender.
		s.reply(env.Sender, env.Msg)
	default:
		s.replyMalformed(fmt.Sprintf("unexpected inbound message kind %d", env.Msg.Kind))
	}
	return nil
}

// handleEstablish authenticates the connection and registers it. A
// Reconnect is the same transition minus the peer notifications; both
// mint a fresh EstablishT so re-association never collides with a
// prior registration.
func (s *Session) handleEstablish(env protocol.Envelope, notify bool) error {
	if s.state == stateAuthenticated {
		s.replyMalformed("session already established")
		return nil
	}

	username := env.Sender.Client.Username
	if username == "" {
		s.replyMalformed("establish without username")
		return nil
	}

	account, err := s.deps.Users.Lookup(username)
	if err != nil {
		return fmt.Errorf("user lookup for %q failed: %w", username, err)
	}

	s.account = account
	s.ctx = NewUserCtx(username, account.Token, s.userAgent)
	s.deps.Registry.Insert(s.ctx, s.mailbox)
	s.state = stateAuthenticated

	if err := s.deps.Users.TouchLastLogin(username); err != nil {
		logger.Warn("failed to record login", "username", username, "error", err)
	}

	if notify {
		s.announce(true)
	}

	echo := protocol.NewEstablish()
	if env.Msg.Kind == protocol.KindReconnect {
		echo = protocol.NewReconnect()
	}
	s.reply(s.selfSender(), echo)

	logger.Info("session established",
		"username", username,
		"usertype", s.account.Type,
		"user_ctx_hash", s.ctx.Hash(),
		"reconnect", !notify)
	return nil
}

// announce tells the rest of the fleet about a presence change. A
// manager's arrival is site-wide news; a regular user's only warns
// their own other devices.
func (s *Session) announce(entering bool) {
	var text string
	var policy protocol.Policy
	if s.account.Type.IsManager() {
		if entering {
			text = notifyManagerEnter
		} else {
			text = notifyManagerLeave
		}
		policy = protocol.PolicyOf(protocol.BroadcastExceptMe)
	} else {
		if entering {
			text = notifyUserEnter
		} else {
			text = notifyUserLeave
		}
		policy = protocol.PolicyOf(protocol.BroadcastSameUserExceptMe)
	}

	s.deps.Dispatcher.Dispatch(protocol.Envelope{
		Sender: s.selfSender(),
		Msg:    protocol.NewNotify(text),
		Policy: policy,
	})
}

// handleLeave notifies peers and echoes the Leave back. The transport
// stays open; the client decides when to actually disconnect.
func (s *Session) handleLeave() {
	s.announce(false)
	s.reply(s.selfSender(), protocol.NewLeave())
}

// handleHeartBeat persists the client's settings and answers with the
// current dashboard snapshot.
func (s *Session) handleHeartBeat(env protocol.Envelope) {
	if env.Msg.HeartBeat == nil {
		s.replyMalformed("heartbeat without payload")
		return
	}
	cfg := env.Msg.HeartBeat.Config

	if err := s.deps.Users.SaveConfig(s.ctx.Username, cfg); err != nil {
		logger.Warn("failed to persist user config", "username", s.ctx.Username, "error", err)
	}

	used, err := s.deps.Coordinator.UserUsedStorage(s.ctx.Username)
	if err != nil {
		logger.Warn("failed to read used storage", "username", s.ctx.Username, "error", err)
	}

	s.reply(protocol.ServerSender(), protocol.NewHeartBeat(protocol.HeartBeat{
		Config: cfg,
		Dashboard: protocol.Dashboard{
			OnlineUsers:     s.deps.Registry.OnlineUsers(),
			OnlineClients:   s.deps.Registry.OnlineClients(),
			UserUsedStorage: used,
			UserMaxStorage:  s.account.Type.MaxStorage(),
		},
	}))
}

// handleFileRequest runs upload admission: quota check, job creation,
// and the FileSendable verdict fanned out to every same-user session.
// A nil file_elem tells the clients the upload was refused.
func (s *Session) handleFileRequest(env protocol.Envelope) {
	if env.Msg.FileRequest == nil {
		s.replyMalformed("file request without payload")
		return
	}
	req := *env.Msg.FileRequest
	if req.Username != s.ctx.Username {
		s.replyMalformed(fmt.Sprintf("file request for foreign user %q", req.Username))
		return
	}

	var elem *protocol.FileListElem

	used, err := s.deps.Coordinator.UserUsedStorage(req.Username)
	switch {
	case err != nil:
		logger.Warn("admission storage check failed", "username", req.Username, "error", err)
		metrics.UploadsRejected.Inc()
	case used+req.Size > s.account.Type.MaxStorage():
		logger.Info("upload refused, quota exceeded",
			"username", req.Username,
			"used", used,
			"size", req.Size,
			"max", s.account.Type.MaxStorage())
		metrics.UploadsRejected.Inc()
	case s.deps.Coordinator.Admit(req, s.ctx.Client()):
		if e, err := s.deps.Root.Elem(req.Username, req.Name); err == nil {
			elem = &e
		} else {
			logger.Warn("failed to stat admitted upload", "name", req.Name, "error", err)
		}
	}

	s.deps.Dispatcher.Dispatch(protocol.Envelope{
		Sender: s.selfSender(),
		Msg: protocol.NewFileSendable(protocol.FileSendable{
			FileElem:    elem,
			Req:         req,
			Hashval:     req.FileHash,
			UserCtxHash: s.ctx.Hash(),
		}),
		Policy: protocol.PolicyOf(protocol.BroadcastSameUser),
	})
}

// handleFileResponse accepts only the client's terminal Finish and
// relays it to the user's other sessions so they clear their progress
// indicators. Everything else inbound is malformed.
func (s *Session) handleFileResponse(env protocol.Envelope) {
	resp := env.Msg.FileResponse
	if resp == nil || env.Policy.Kind != protocol.Server || resp.Status != protocol.SliceFinish {
		s.replyMalformed("inbound file response must be a Finish with server policy")
		return
	}

	s.deps.Coordinator.Complete(resp.FileHash)

	s.deps.Dispatcher.Dispatch(protocol.Envelope{
		Sender: s.selfSender(),
		Msg:    env.Msg,
		Policy: protocol.PolicyOf(protocol.BroadcastSameUser),
	})
}

// handleBinary routes a slice frame into the upload engine. Frames
// before authentication or with a bad header are dropped.
func (s *Session) handleBinary(data []byte) {
	if s.state != stateAuthenticated {
		logger.Debug("binary frame before establish dropped")
		return
	}
	frame, err := protocol.ParseSliceFrame(data)
	if err != nil {
		logger.Debug("malformed slice frame dropped", "error", err)
		return
	}
	s.deps.Coordinator.Deliver(frame)
}

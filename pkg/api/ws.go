package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/session"
)

// upgrader accepts any origin. Session authentication happens inside
// the WebSocket protocol via the Establish handshake, not at upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsHandler upgrades GET /ws and runs the session actor on the handler
// goroutine until the connection dies.
func wsHandler(deps session.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			logger.Debug("websocket upgrade failed",
				"remote_addr", r.RemoteAddr, "error", err)
			return
		}

		sess := session.New(deps, conn, r.UserAgent())
		sess.Run()
	}
}

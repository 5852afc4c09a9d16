package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/flowdrop/flowdrop/pkg/store"
)

// HealthCheckTimeout bounds the database probe so a stalled store
// cannot wedge readiness checks.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler handles the unauthenticated health probes.
//
//   - Liveness: is the server process running?
//   - Readiness: can the server reach its database?
type HealthHandler struct {
	store     *store.Store
	startTime time.Time
}

// NewHealthHandler creates a new health handler. The store may be nil,
// in which case readiness always reports unhealthy.
func NewHealthHandler(s *store.Store) *HealthHandler {
	return &HealthHandler{
		store:     s,
		startTime: time.Now(),
	}
}

// Liveness handles GET /health. It succeeds whenever the HTTP server is
// responsive, making it suitable for Kubernetes liveness probes.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSONOK(w, map[string]any{
		"status":     "healthy",
		"service":    "flowdrop",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	})
}

// Readiness handles GET /health/ready and pings the database.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  "store not initialized",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := h.pingDatabase(ctx)
	latency := time.Since(start)

	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unhealthy",
			"error":   err.Error(),
			"latency": latency.String(),
		})
		return
	}

	WriteJSONOK(w, map[string]any{
		"status":  "healthy",
		"latency": latency.String(),
	})
}

func (h *HealthHandler) pingDatabase(ctx context.Context) error {
	sqlDB, err := h.store.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/api/auth"
	"github.com/flowdrop/flowdrop/pkg/api/handlers"
	apiMiddleware "github.com/flowdrop/flowdrop/pkg/api/middleware"
	"github.com/flowdrop/flowdrop/pkg/files"
	"github.com/flowdrop/flowdrop/pkg/metrics"
	"github.com/flowdrop/flowdrop/pkg/session"
	"github.com/flowdrop/flowdrop/pkg/store"
	"github.com/flowdrop/flowdrop/pkg/upload"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Store       *store.Store
	JWTService  *auth.JWTService
	Root        *files.Root
	Coordinator *upload.Coordinator
	Session     session.Deps

	// MetricsEnabled mounts /metrics when set.
	MetricsEnabled bool
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /ws - WebSocket session upgrade
//   - GET /download/{code} - Share-code file download
//   - GET /metrics - Prometheus metrics (when enabled)
//   - POST /api/v1/auth/login - Login (registers unknown usernames)
//   - GET /api/v1/auth/me - Current user info
//   - POST /api/v1/auth/logout - Persist client config on logout
//   - GET /api/v1/files - List own files
//   - DELETE /api/v1/files/{filename} - Delete own file
//   - POST /api/v1/files/{filename}/share - Mint a download code
//   - /api/v1/admin/users/* - Account administration (manager only)
//
// The request timeout applies only to the /api/v1 subtree: /ws hijacks
// the connection for the session's lifetime and /download streams
// arbitrarily large files.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(deps.Store)
	authHandler := handlers.NewAuthHandler(deps.Store, deps.JWTService)
	filesHandler := handlers.NewFilesHandler(deps.Root, deps.Coordinator)
	usersHandler := handlers.NewUsersHandler(deps.Store)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	// Session upgrade and share-code downloads - unauthenticated, and
	// deliberately outside the timeout middleware
	r.Get("/ws", wsHandler(deps.Session))
	r.Get("/download/{code}", filesHandler.Download)

	if deps.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// Public endpoint
		r.Post("/auth/login", authHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(deps.JWTService))

			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/logout", authHandler.Logout)

			r.Route("/files", func(r chi.Router) {
				r.Get("/", filesHandler.List)
				r.Delete("/{filename}", filesHandler.Delete)
				r.Post("/{filename}/share", filesHandler.Share)
			})

			// Account administration (manager only)
			r.Route("/admin/users", func(r chi.Router) {
				r.Use(apiMiddleware.RequireManager())

				r.Get("/", usersHandler.List)
				r.Put("/{username}/type", usersHandler.SetType)
				r.Delete("/{username}", usersHandler.Delete)
			})
		})
	})

	return r
}

// requestLogger logs every request through the internal logger: start
// at DEBUG, completion at INFO with status, bytes, and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}

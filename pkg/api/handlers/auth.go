package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/api/auth"
	"github.com/flowdrop/flowdrop/pkg/protocol"
	"github.com/flowdrop/flowdrop/pkg/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store      *store.Store
	jwtService *auth.JWTService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *store.Store, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{
		store:      s,
		jwtService: jwtService,
	}
}

// LoginRequest is the request body for POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for POST /api/v1/auth/login.
// WsToken is the opaque token the client presents on the WebSocket
// Establish handshake.
type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	ExpiresAt   time.Time    `json:"expires_at"`
	WsToken     string       `json:"ws_token"`
	User        UserResponse `json:"user"`
}

// UserResponse is a sanitized user representation for API responses.
type UserResponse struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	UserType  string     `json:"usertype"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

func userToResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		UserType:  u.UserType,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
	}
}

// Login handles POST /api/v1/auth/login.
//
// Unknown usernames are registered on the spot with a fresh account at
// the base User tier; known usernames must present their password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	user, err := h.store.EnsureUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			Unauthorized(w, "Invalid username or password")
			return
		}
		logger.Error("login failed", "username", req.Username, "error", err)
		InternalServerError(w, "Authentication failed")
		return
	}

	token, err := h.jwtService.Generate(user)
	if err != nil {
		InternalServerError(w, "Failed to generate token")
		return
	}

	if err := h.store.UpdateLastLogin(r.Context(), user.Username, time.Now()); err != nil {
		logger.Warn("failed to update last login time", "username", user.Username, "error", err)
	}

	WriteJSONOK(w, LoginResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
		ExpiresAt:   token.ExpiresAt,
		WsToken:     user.Token,
		User:        userToResponse(user),
	})
}

// LogoutRequest is the request body for POST /api/v1/auth/logout. The
// config is optional; when present it is persisted as the user's client
// configuration before the session ends.
type LogoutRequest struct {
	Config *protocol.UserConfig `json:"config,omitempty"`
}

// Logout handles POST /api/v1/auth/logout. JWTs are stateless, so the
// only server-side effect is persisting the client configuration the
// caller hands back.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Authentication required")
		return
	}

	var req LogoutRequest
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Config != nil {
		if err := h.store.UpdateUserConfig(r.Context(), claims.Username, *req.Config); err != nil {
			logger.Warn("failed to persist config on logout", "username", claims.Username, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me and returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Authentication required")
		return
	}

	user, err := h.store.GetUserByName(r.Context(), claims.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, "Failed to load user")
		return
	}

	WriteJSONOK(w, userToResponse(user))
}

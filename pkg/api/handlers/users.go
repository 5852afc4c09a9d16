package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/api/auth"
	"github.com/flowdrop/flowdrop/pkg/protocol"
	"github.com/flowdrop/flowdrop/pkg/store"
)

// UsersHandler exposes account administration. All routes sit behind
// the manager-only middleware.
type UsersHandler struct {
	store *store.Store
}

// NewUsersHandler creates a new UsersHandler.
func NewUsersHandler(s *store.Store) *UsersHandler {
	return &UsersHandler{store: s}
}

// UserListResponse is the response body for GET /api/v1/admin/users.
type UserListResponse struct {
	Users []UserResponse `json:"users"`
}

// SetUserTypeRequest is the request body for PUT /api/v1/admin/users/{username}/type.
type SetUserTypeRequest struct {
	UserType string `json:"usertype"`
}

// List handles GET /api/v1/admin/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		logger.Error("failed to list users", "error", err)
		InternalServerError(w, "Failed to list users")
		return
	}

	resp := UserListResponse{Users: make([]UserResponse, 0, len(users))}
	for _, u := range users {
		resp.Users = append(resp.Users, userToResponse(u))
	}
	WriteJSONOK(w, resp)
}

// SetType handles PUT /api/v1/admin/users/{username}/type and changes
// an account's rank.
func (h *UsersHandler) SetType(w http.ResponseWriter, r *http.Request) {
	var req SetUserTypeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	usertype, ok := protocol.ParseUserType(req.UserType)
	if !ok {
		BadRequest(w, "Unknown user type")
		return
	}

	username := chi.URLParam(r, "username")
	if err := h.store.UpdateUserType(r.Context(), username, usertype); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		logger.Error("failed to update user type", "username", username, "error", err)
		InternalServerError(w, "Failed to update user type")
		return
	}

	WriteNoContent(w)
}

// Delete handles DELETE /api/v1/admin/users/{username}. Managers cannot
// delete their own account.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Username == username {
		Conflict(w, "Cannot delete your own account")
		return
	}

	if err := h.store.DeleteUser(r.Context(), username); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		logger.Error("failed to delete user", "username", username, "error", err)
		InternalServerError(w, "Failed to delete user")
		return
	}

	WriteNoContent(w)
}

package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/api/auth"
	"github.com/flowdrop/flowdrop/pkg/files"
	"github.com/flowdrop/flowdrop/pkg/protocol"
	"github.com/flowdrop/flowdrop/pkg/upload"
)

// FilesHandler serves per-user file listings, deletion, and the
// share-code download flow.
type FilesHandler struct {
	root        *files.Root
	coordinator *upload.Coordinator
}

// NewFilesHandler creates a new FilesHandler.
func NewFilesHandler(root *files.Root, coordinator *upload.Coordinator) *FilesHandler {
	return &FilesHandler{
		root:        root,
		coordinator: coordinator,
	}
}

// FileListResponse is the response body for GET /api/v1/files.
type FileListResponse struct {
	Files []protocol.FileListElem `json:"files"`
}

// ShareCodeResponse is the response body for POST /api/v1/files/{filename}/share.
type ShareCodeResponse struct {
	Code string `json:"code"`
}

// List handles GET /api/v1/files and lists the caller's files.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Authentication required")
		return
	}

	elems, err := h.root.List(claims.Username)
	if err != nil {
		logger.Error("failed to list files", "username", claims.Username, "error", err)
		InternalServerError(w, "Failed to list files")
		return
	}

	WriteJSONOK(w, FileListResponse{Files: elems})
}

// Delete handles DELETE /api/v1/files/{filename}.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Authentication required")
		return
	}

	filename := chi.URLParam(r, "filename")
	if err := h.root.Remove(claims.Username, filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			NotFound(w, "File not found")
			return
		}
		if errors.Is(err, files.ErrBadName) {
			BadRequest(w, "Invalid filename")
			return
		}
		logger.Error("failed to delete file",
			"username", claims.Username, "filename", filename, "error", err)
		InternalServerError(w, "Failed to delete file")
		return
	}

	WriteNoContent(w)
}

// Share handles POST /api/v1/files/{filename}/share and mints a
// single-file download code.
func (h *FilesHandler) Share(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Authentication required")
		return
	}

	filename := chi.URLParam(r, "filename")
	if _, err := h.root.Elem(claims.Username, filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			NotFound(w, "File not found")
			return
		}
		if errors.Is(err, files.ErrBadName) {
			BadRequest(w, "Invalid filename")
			return
		}
		InternalServerError(w, "Failed to stat file")
		return
	}

	code, err := h.coordinator.GenDownloadCode(upload.DownloadRequest{
		Username: claims.Username,
		Filename: filename,
	})
	if err != nil {
		InternalServerError(w, "Failed to generate download code")
		return
	}

	WriteJSONOK(w, ShareCodeResponse{Code: code})
}

// Download handles GET /download/{code}. The route is unauthenticated;
// the code is the capability.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	req, ok := h.coordinator.ResolveDownloadCode(code)
	if !ok {
		NotFound(w, "Unknown download code")
		return
	}

	path, err := h.root.UserPath(req.Username, req.Filename)
	if err != nil {
		NotFound(w, "File not found")
		return
	}
	if _, err := os.Stat(path); err != nil {
		NotFound(w, "File not found")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(req.Filename))
	http.ServeFile(w, r, path)
}

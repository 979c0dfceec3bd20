package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/callwatch/callwatch/internal/database/models"
)

// extensionRequest is the JSON request body for provisioning an extension.
type extensionRequest struct {
	Number string `json:"number"`
	Name   string `json:"name"`
}

// extensionResponse is the JSON response for a single extension.
type extensionResponse struct {
	Number           string  `json:"number"`
	Name             string  `json:"name"`
	Status           string  `json:"status"`
	DeviceState      string  `json:"device_state"`
	LastSeen         *string `json:"last_seen"`
	LastStatusChange *string `json:"last_status_change"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// toExtensionResponse converts a models.Extension to the API response.
func toExtensionResponse(e *models.Extension) extensionResponse {
	return extensionResponse{
		Number:           e.Number,
		Name:             e.Name,
		Status:           e.Status,
		DeviceState:      e.DeviceState,
		LastSeen:         rfc3339(e.LastSeen),
		LastStatusChange: rfc3339(e.LastStatusChange),
		CreatedAt:        e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        e.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListExtensions returns every provisioned extension.
func (s *Server) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	exts, err := s.store.Extensions().List(r.Context())
	if err != nil {
		slog.Error("list extensions: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]extensionResponse, len(exts))
	for i := range exts {
		items[i] = toExtensionResponse(&exts[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetExtension returns one extension by number.
func (s *Server) handleGetExtension(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if errMsg := validateExtensionNumber("number", number); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	ext, err := s.store.Extensions().GetByNumber(r.Context(), number)
	if err != nil {
		slog.Error("get extension: failed to query", "error", err, "number", number)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ext == nil {
		writeError(w, http.StatusNotFound, "extension not found")
		return
	}
	writeJSON(w, http.StatusOK, toExtensionResponse(ext))
}

// handleCreateExtension provisions an extension for monitoring. Status events
// for unprovisioned numbers are ignored, so this is the only way an extension
// appears on the board.
func (s *Server) handleCreateExtension(w http.ResponseWriter, r *http.Request) {
	var req extensionRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateExtensionNumber("number", req.Number); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateStringLen("name", req.Name, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	ctx := r.Context()
	existing, err := s.store.Extensions().GetByNumber(ctx, req.Number)
	if err != nil {
		slog.Error("create extension: failed to query", "error", err, "number", req.Number)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "extension already exists")
		return
	}

	ext := &models.Extension{
		Number: req.Number,
		Name:   req.Name,
		Status: models.ExtUnknown,
	}
	if err := s.store.Extensions().Create(ctx, ext); err != nil {
		slog.Error("create extension: failed to insert", "error", err, "number", req.Number)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Ask the switch for current state so the new row does not sit at
	// unknown until the next status event.
	if err := s.mon.RefreshExtensions(); err != nil {
		slog.Debug("create extension: state refresh skipped", "error", err)
	}

	created, err := s.store.Extensions().GetByNumber(ctx, req.Number)
	if err != nil || created == nil {
		slog.Error("create extension: failed to re-read", "error", err, "number", req.Number)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, toExtensionResponse(created))
}

// handleDeleteExtension removes an extension from monitoring.
func (s *Server) handleDeleteExtension(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if errMsg := validateExtensionNumber("number", number); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	ctx := r.Context()
	existing, err := s.store.Extensions().GetByNumber(ctx, number)
	if err != nil {
		slog.Error("delete extension: failed to query", "error", err, "number", number)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "extension not found")
		return
	}

	if err := s.store.Extensions().Delete(ctx, number); err != nil {
		slog.Error("delete extension: failed to delete", "error", err, "number", number)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"number": number})
}

// handleRefreshExtensions asks the switch to replay every hint state.
func (s *Server) handleRefreshExtensions(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.RefreshExtensions(); err != nil {
		slog.Warn("extension refresh failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "not connected to switch")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

package api

import (
	"log/slog"
	"net/http"
)

// healthResponse is the shape returned by GET /health.
type healthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// handleHealth reports liveness plus whether the switch session is up.
// Unauthenticated; suitable for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Connected: s.mon.Healthy()})
}

// statusResponse is the shape returned by GET /status.
type statusResponse struct {
	Connection  any   `json:"connection"`
	ActiveCalls int64 `json:"active_calls"`
	Extensions  int64 `json:"extensions"`
}

// handleStatus returns the connection lifecycle snapshot and headline counts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := s.store.Calls().CountActive(ctx)
	if err != nil {
		slog.Error("status: failed to count active calls", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	exts, err := s.store.Extensions().Count(ctx)
	if err != nil {
		slog.Error("status: failed to count extensions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Connection:  s.mon.Status(),
		ActiveCalls: active,
		Extensions:  exts,
	})
}

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/callwatch/callwatch/internal/database"
	"github.com/callwatch/callwatch/internal/database/models"
)

// callResponse is the JSON response for a single call.
type callResponse struct {
	LinkedID    string  `json:"linkedid"`
	State       string  `json:"state"`
	Direction   string  `json:"direction"`
	OtherParty  string  `json:"other_party"`
	CallerNum   string  `json:"caller_num"`
	CallerName  string  `json:"caller_name"`
	AgentExten  string  `json:"agent_exten"`
	StartedAt   string  `json:"started_at"`
	AnsweredAt  *string `json:"answered_at"`
	EndedAt     *string `json:"ended_at"`
	RingSeconds *int    `json:"ring_seconds"`
	TalkSeconds *int    `json:"talk_seconds"`
	DialStatus  string  `json:"dial_status,omitempty"`
	HangupCause string  `json:"hangup_cause,omitempty"`
	Disposition string  `json:"disposition,omitempty"`
}

// callDetailResponse adds the per-channel breakdown for a single call.
type callDetailResponse struct {
	callResponse
	Legs     []callLegResponse       `json:"legs"`
	Segments []bridgeSegmentResponse `json:"bridge_segments"`
}

type callLegResponse struct {
	UniqueID    string  `json:"uniqueid"`
	Channel     string  `json:"channel"`
	Exten       string  `json:"exten,omitempty"`
	Context     string  `json:"context,omitempty"`
	StateDesc   string  `json:"state,omitempty"`
	CallerNum   string  `json:"caller_num,omitempty"`
	CallerName  string  `json:"caller_name,omitempty"`
	StartedAt   string  `json:"started_at"`
	AnsweredAt  *string `json:"answered_at"`
	HangupAt    *string `json:"hangup_at"`
	HangupCause string  `json:"hangup_cause,omitempty"`
}

type bridgeSegmentResponse struct {
	Channel   string  `json:"channel"`
	EnteredAt string  `json:"entered_at"`
	LeftAt    *string `json:"left_at"`
}

func rfc3339(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// toCallResponse converts a models.Call to the API response.
func toCallResponse(c *models.Call) callResponse {
	return callResponse{
		LinkedID:    c.LinkedID,
		State:       string(c.State),
		Direction:   c.Direction,
		OtherParty:  c.OtherParty,
		CallerNum:   c.CallerNum,
		CallerName:  c.CallerName,
		AgentExten:  c.AgentExten,
		StartedAt:   c.StartedAt.Format(time.RFC3339),
		AnsweredAt:  rfc3339(c.AnsweredAt),
		EndedAt:     rfc3339(c.EndedAt),
		RingSeconds: c.RingSeconds,
		TalkSeconds: c.TalkSeconds,
		DialStatus:  c.DialStatus,
		HangupCause: c.HangupCause,
		Disposition: c.Disposition,
	}
}

// handleListCalls returns calls with pagination and optional filters.
// Query params: limit, offset, search, direction, state, agent_exten.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := r.URL.Query()
	direction := q.Get("direction")
	switch direction {
	case "", models.DirectionIncoming, models.DirectionOutgoing, models.DirectionUnknown:
	default:
		writeError(w, http.StatusBadRequest, `direction must be "incoming", "outgoing", or "unknown"`)
		return
	}
	state := q.Get("state")
	switch state {
	case "", string(models.CallRinging), string(models.CallAnswered), string(models.CallEnded):
	default:
		writeError(w, http.StatusBadRequest, `state must be "ringing", "answered", or "ended"`)
		return
	}

	filter := database.CallListFilter{
		Limit:      pg.Limit,
		Offset:     pg.Offset,
		Search:     q.Get("search"),
		Direction:  direction,
		State:      state,
		AgentExten: q.Get("agent_exten"),
	}

	calls, total, err := s.store.Calls().List(r.Context(), filter)
	if err != nil {
		slog.Error("list calls: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]callResponse, len(calls))
	for i := range calls {
		items[i] = toCallResponse(&calls[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleGetCall returns one call with its legs and bridge segments.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	linkedID := chi.URLParam(r, "linkedid")
	ctx := r.Context()

	call, err := s.store.Calls().GetByLinkedID(ctx, linkedID)
	if err != nil {
		slog.Error("get call: failed to query", "error", err, "linkedid", linkedID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	legs, err := s.store.CallLegs().ListByLinkedID(ctx, linkedID)
	if err != nil {
		slog.Error("get call: failed to list legs", "error", err, "linkedid", linkedID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	segs, err := s.store.BridgeSegments().ListByLinkedID(ctx, linkedID)
	if err != nil {
		slog.Error("get call: failed to list segments", "error", err, "linkedid", linkedID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := callDetailResponse{
		callResponse: toCallResponse(call),
		Legs:         make([]callLegResponse, len(legs)),
		Segments:     make([]bridgeSegmentResponse, len(segs)),
	}
	for i, leg := range legs {
		resp.Legs[i] = callLegResponse{
			UniqueID:    leg.UniqueID,
			Channel:     leg.Channel,
			Exten:       leg.Exten,
			Context:     leg.Context,
			StateDesc:   leg.StateDesc,
			CallerNum:   leg.CallerNum,
			CallerName:  leg.CallerName,
			StartedAt:   leg.StartedAt.Format(time.RFC3339),
			AnsweredAt:  rfc3339(leg.AnsweredAt),
			HangupAt:    rfc3339(leg.HangupAt),
			HangupCause: leg.HangupCause,
		}
	}
	for i, seg := range segs {
		resp.Segments[i] = bridgeSegmentResponse{
			Channel:   seg.Channel,
			EnteredAt: seg.EnteredAt.Format(time.RFC3339),
			LeftAt:    rfc3339(seg.LeftAt),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

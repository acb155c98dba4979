package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ahecn/referraldesk/internal/domain/entities"
)

// EventFeed defines the event log operations used by the HTTP handlers
type EventFeed interface {
	Publish(ctx context.Context, eventType entities.EventType, caseID, actor string, payload map[string]interface{}) (int64, error)
	PollSince(ctx context.Context, lastSeenID int64, caseID string, limit int) ([]*entities.Event, error)
}

// EventHandler exposes the event log for publishing and cursor polling
type EventHandler struct {
	feed EventFeed
}

// NewEventHandler creates a new event handler
func NewEventHandler(feed EventFeed) *EventHandler {
	return &EventHandler{feed: feed}
}

type publishEventRequest struct {
	Type    string                 `json:"type" validate:"required,oneof=vitals.update intervention.added status.update system.alert"`
	CaseID  string                 `json:"case_id" validate:"required,max=64"`
	Actor   string                 `json:"actor" validate:"max=64"`
	Payload map[string]interface{} `json:"payload"`
}

// PublishEvent handles POST /api/events
func (h *EventHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = actorFrom(r, "external")
	}

	id, err := h.feed.Publish(r.Context(), entities.EventType(req.Type), req.CaseID, actor, req.Payload)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"id": id,
	})
}

// PollEvents handles GET /api/events?after=&case_id=&limit=
func (h *EventHandler) PollEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var after int64
	if raw := query.Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		after = parsed
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	events, err := h.feed.PollSince(r.Context(), after, query.Get("case_id"), limit)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	// callers resume from last_id; it equals after when nothing is new
	lastID := after
	if len(events) > 0 {
		lastID = events[len(events)-1].ID
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"events":  events,
		"count":   len(events),
		"last_id": lastID,
	})
}

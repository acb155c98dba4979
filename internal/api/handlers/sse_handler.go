package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
)

const streamBatchSize = 200

// EventSource is the event log as seen by a live stream
type EventSource interface {
	PollSince(ctx context.Context, lastSeenID int64, caseID string, limit int) ([]*entities.Event, error)
	Subscribe(ctx context.Context, caseID string) (<-chan int64, error)
}

// SSEHandler streams event log entries as Server-Sent Events. Each stream
// polls the log from its own cursor; bus signals only make it poll sooner.
type SSEHandler struct {
	source       EventSource
	heartbeat    time.Duration
	pollInterval time.Duration

	mu      sync.RWMutex
	clients map[string]int // case id ("" for all cases) -> open streams
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(source EventSource, pollInterval time.Duration) *SSEHandler {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &SSEHandler{
		source:       source,
		heartbeat:    30 * time.Second,
		pollInterval: pollInterval,
		clients:      make(map[string]int),
	}
}

// StreamCaseEvents handles GET /api/stream/cases/{id} and, without an id,
// GET /api/stream/events for every case. Clients resume with Last-Event-ID or ?after=.
func (h *SSEHandler) StreamCaseEvents(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")

	cursor, err := streamCursor(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	logger := observability.CaseLogger(ctx, caseID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.registerClient(caseID)
	defer h.unregisterClient(caseID)

	signals, err := h.source.Subscribe(ctx, caseID)
	if err != nil {
		logger.Warn().Err(err).Msg("stream running without wake-up signals")
		signals = nil
	}

	h.sendEvent(w, "", "connected", map[string]interface{}{
		"case_id":   caseID,
		"after":     cursor,
		"timestamp": time.Now().UTC(),
	})
	cursor = h.drain(ctx, w, caseID, cursor)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Int64("cursor", cursor).Msg("stream client disconnected")
			return
		case <-heartbeat.C:
			h.sendEvent(w, "", "heartbeat", map[string]interface{}{
				"timestamp": time.Now().UTC(),
			})
			flusher.Flush()
		case <-poll.C:
			cursor = h.drain(ctx, w, caseID, cursor)
			flusher.Flush()
		case _, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			cursor = h.drain(ctx, w, caseID, cursor)
			flusher.Flush()
		}
	}
}

// drain writes every event after cursor and returns the new cursor
func (h *SSEHandler) drain(ctx context.Context, w http.ResponseWriter, caseID string, cursor int64) int64 {
	for {
		events, err := h.source.PollSince(ctx, cursor, caseID, streamBatchSize)
		if err != nil {
			if ctx.Err() == nil {
				observability.CaseLogger(ctx, caseID).Warn().Err(err).Int64("cursor", cursor).Msg("stream poll failed, will retry")
			}
			return cursor
		}
		for _, e := range events {
			h.sendEvent(w, strconv.FormatInt(e.ID, 10), string(e.Type), e)
			cursor = e.ID
		}
		if len(events) < streamBatchSize {
			return cursor
		}
	}
}

func streamCursor(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, fmt.Errorf("invalid event cursor %q", raw)
	}
	return cursor, nil
}

func (h *SSEHandler) registerClient(caseID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[caseID]++
}

func (h *SSEHandler) unregisterClient(caseID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[caseID] <= 1 {
		delete(h.clients, caseID)
		return
	}
	h.clients[caseID]--
}

// sendEvent writes one SSE frame; id is omitted for control frames
func (h *SSEHandler) sendEvent(w http.ResponseWriter, id, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		observability.LoggerFromContext(context.Background()).Error().Err(err).Msg("failed to marshal stream event")
		return
	}

	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// GetClientCount returns the number of open streams
func (h *SSEHandler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, n := range h.clients {
		count += n
	}
	return count
}

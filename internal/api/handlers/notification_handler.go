package handlers

import (
	"net/http"
	"strconv"

	"github.com/ahecn/referraldesk/internal/domain/entities"
)

// AlertCenter defines the notification list operations used by the handler
type AlertCenter interface {
	List(unreadOnly bool) []*entities.Alert
	UnreadCount() int
	MarkRead(id string) error
	MarkAllRead() int
	Clear(id string) error
	ClearAll() int
}

// NotificationHandler handles the receiving-staff notification list
type NotificationHandler struct {
	alerts AlertCenter
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(alerts AlertCenter) *NotificationHandler {
	return &NotificationHandler{alerts: alerts}
}

// ListNotifications handles GET /api/notifications?unread=true
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	alerts := h.alerts.List(unreadOnly)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": alerts,
		"count":         len(alerts),
		"unread":        h.alerts.UnreadCount(),
	})
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.MarkRead(r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]int{"updated": h.alerts.MarkAllRead()})
}

// Clear handles DELETE /api/notifications/{id}
func (h *NotificationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.Clear(r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAll handles DELETE /api/notifications
func (h *NotificationHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]int{"removed": h.alerts.ClearAll()})
}

package routes

import (
	"net/http"

	"github.com/ahecn/referraldesk/internal/api/handlers"
	"github.com/ahecn/referraldesk/internal/api/middleware"
	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	referralHandler     *handlers.ReferralHandler
	facilityHandler     *handlers.FacilityHandler
	eventHandler        *handlers.EventHandler
	notificationHandler *handlers.NotificationHandler
	sseHandler          *handlers.SSEHandler

	allowedOrigins     []string
	writeRatePerMinute int
	metrics            *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	referralHandler *handlers.ReferralHandler,
	facilityHandler *handlers.FacilityHandler,
	eventHandler *handlers.EventHandler,
	notificationHandler *handlers.NotificationHandler,
	sseHandler *handlers.SSEHandler,
	allowedOrigins []string,
	writeRatePerMinute int,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:                 http.NewServeMux(),
		referralHandler:     referralHandler,
		facilityHandler:     facilityHandler,
		eventHandler:        eventHandler,
		notificationHandler: notificationHandler,
		sseHandler:          sseHandler,
		allowedOrigins:      allowedOrigins,
		writeRatePerMinute:  writeRatePerMinute,
		metrics:             metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Referral endpoints
	r.mux.HandleFunc("POST /api/referrals", r.referralHandler.CreateReferral)
	r.mux.HandleFunc("GET /api/referrals", r.referralHandler.ListReferrals)
	r.mux.HandleFunc("GET /api/referrals/{id}", r.referralHandler.GetReferral)
	r.mux.HandleFunc("POST /api/referrals/{id}/accept", r.referralHandler.Transition(entities.TransitionAccept))
	r.mux.HandleFunc("POST /api/referrals/{id}/enroute", r.referralHandler.Transition(entities.TransitionEnRoute))
	r.mux.HandleFunc("POST /api/referrals/{id}/arrive", r.referralHandler.Transition(entities.TransitionArrive))
	r.mux.HandleFunc("POST /api/referrals/{id}/handover", r.referralHandler.Transition(entities.TransitionHandover))
	r.mux.HandleFunc("POST /api/referrals/{id}/reject", r.referralHandler.Reject)
	r.mux.HandleFunc("POST /api/referrals/{id}/vitals", r.referralHandler.RecordVitals)
	r.mux.HandleFunc("POST /api/referrals/{id}/interventions", r.referralHandler.AddInterventions)
	r.mux.HandleFunc("GET /api/referrals/{id}/interventions", r.referralHandler.ListInterventions)
	r.mux.HandleFunc("PATCH /api/referrals/{id}/eta", r.referralHandler.UpdateETA)
	r.mux.HandleFunc("GET /api/referrals/{id}/history", r.referralHandler.History)
	r.mux.HandleFunc("GET /api/reject-reasons", r.referralHandler.RejectReasons)

	// Receiving facility endpoints
	r.mux.HandleFunc("GET /api/facilities/{id}/queue", r.facilityHandler.GetQueue)
	r.mux.HandleFunc("GET /api/facilities/{id}/summary", r.facilityHandler.GetSummary)
	r.mux.HandleFunc("PUT /api/facilities/{id}/resources", r.facilityHandler.UpdateResources)

	// Event log endpoints
	r.mux.HandleFunc("POST /api/events", r.eventHandler.PublishEvent)
	r.mux.HandleFunc("GET /api/events", r.eventHandler.PollEvents)
	r.mux.HandleFunc("GET /api/stream/cases/{id}", r.sseHandler.StreamCaseEvents)
	r.mux.HandleFunc("GET /api/stream/events", r.sseHandler.StreamCaseEvents)

	// Notification endpoints
	r.mux.HandleFunc("GET /api/notifications", r.notificationHandler.ListNotifications)
	r.mux.HandleFunc("POST /api/notifications/read-all", r.notificationHandler.MarkAllRead)
	r.mux.HandleFunc("POST /api/notifications/{id}/read", r.notificationHandler.MarkRead)
	r.mux.HandleFunc("DELETE /api/notifications/{id}", r.notificationHandler.Clear)
	r.mux.HandleFunc("DELETE /api/notifications", r.notificationHandler.ClearAll)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CacheControl(handler)
	handler = middleware.WriteRateLimit(r.writeRatePerMinute)(handler)
	// CORS wraps everything so rejected and limited responses carry headers too
	handler = middleware.CORS(r.allowedOrigins)(handler)

	return handler
}

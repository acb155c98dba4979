package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/ahecn/referraldesk/internal/application/services"
	"github.com/ahecn/referraldesk/internal/domain/entities"
)

// ReferralService defines the referral operations used by the handler
type ReferralService interface {
	CreateReferral(ctx context.Context, in services.NewReferral, actor string) (*entities.ReferralCase, error)
	GetReferral(ctx context.Context, id string) (*entities.ReferralCase, error)
	ListReferrals(ctx context.Context, filter services.ReferralFilter) []*entities.ReferralCase
	Transition(ctx context.Context, id string, t entities.Transition, reason, actor string) (*entities.ReferralCase, error)
	RecordVitals(ctx context.Context, id string, v entities.Vitals, actor string) (*entities.ReferralCase, error)
	AddInterventions(ctx context.Context, id string, names []string, actor string) ([]entities.Intervention, error)
	Interventions(ctx context.Context, id string) ([]entities.Intervention, error)
	UpdateETA(ctx context.Context, id string, minutes int, actor string) (*entities.ReferralCase, error)
	History(ctx context.Context, id string) ([]services.HistoryEntry, error)
}

// ReferralHandler handles referral case HTTP requests
type ReferralHandler struct {
	service ReferralService
}

// NewReferralHandler creates a new referral handler
func NewReferralHandler(service ReferralService) *ReferralHandler {
	return &ReferralHandler{service: service}
}

type createReferralRequest struct {
	ID            string                 `json:"id" validate:"omitempty,max=32"`
	Patient       entities.Patient       `json:"patient"`
	Referrer      entities.Referrer      `json:"referrer"`
	ProvisionalDx entities.ProvisionalDx `json:"provisional_dx"`
	Triage        triageRequest          `json:"triage"`
	Transport     transportRequest       `json:"transport"`
	Destination   string                 `json:"dest" validate:"required,max=64"`
}

type triageRequest struct {
	Complaint string          `json:"complaint" validate:"omitempty,oneof=Maternal Trauma Stroke Cardiac Sepsis Other"`
	Color     string          `json:"color" validate:"required,oneof=RED YELLOW GREEN"`
	Vitals    entities.Vitals `json:"vitals"`
}

type transportRequest struct {
	Priority  string `json:"priority" validate:"omitempty,oneof=Routine Urgent STAT"`
	Ambulance string `json:"ambulance" validate:"max=32"`
	ETAMin    *int   `json:"eta_min" validate:"omitempty,gte=0"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type interventionsRequest struct {
	Names []string `json:"names" validate:"required,min=1,dive,max=64"`
}

type etaRequest struct {
	ETAMin *int `json:"eta_min" validate:"required,gte=0,lte=1440"`
}

// CreateReferral handles POST /api/referrals
func (h *ReferralHandler) CreateReferral(w http.ResponseWriter, r *http.Request) {
	var req createReferralRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	c, err := h.service.CreateReferral(r.Context(), services.NewReferral{
		ID:            strings.ToUpper(strings.TrimSpace(req.ID)),
		Patient:       req.Patient,
		Referrer:      req.Referrer,
		ProvisionalDx: req.ProvisionalDx,
		Triage: entities.Triage{
			Complaint: req.Triage.Complaint,
			Color:     entities.TriageColor(req.Triage.Color),
			Vitals:    req.Triage.Vitals,
		},
		Transport: entities.Transport{
			Priority:  entities.Priority(req.Transport.Priority),
			Ambulance: req.Transport.Ambulance,
			ETAMin:    req.Transport.ETAMin,
		},
		Destination: req.Destination,
	}, actorFrom(r, "referrer"))
	if err != nil && c == nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithResult(w, r, http.StatusCreated, "referral", c, err)
}

// ListReferrals handles GET /api/referrals?dest=&status=
func (h *ReferralHandler) ListReferrals(w http.ResponseWriter, r *http.Request) {
	filter := services.ReferralFilter{Destination: r.URL.Query().Get("dest")}
	for _, raw := range r.URL.Query()["status"] {
		for _, s := range strings.Split(raw, ",") {
			status := entities.ReferralStatus(strings.ToUpper(strings.TrimSpace(s)))
			if status == "" {
				continue
			}
			if !status.IsValid() {
				respondWithError(w, http.StatusBadRequest, "unknown status "+string(status))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	referrals := h.service.ListReferrals(r.Context(), filter)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"referrals": referrals,
		"count":     len(referrals),
	})
}

// GetReferral handles GET /api/referrals/{id}
func (h *ReferralHandler) GetReferral(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetReferral(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

// Transition returns a handler for one of the body-less workflow actions
func (h *ReferralHandler) Transition(t entities.Transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.applyTransition(w, r, t, "")
	}
}

// Reject handles POST /api/referrals/{id}/reject
func (h *ReferralHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	h.applyTransition(w, r, entities.TransitionReject, req.Reason)
}

func (h *ReferralHandler) applyTransition(w http.ResponseWriter, r *http.Request, t entities.Transition, reason string) {
	c, err := h.service.Transition(r.Context(), r.PathValue("id"), t, reason, actorFrom(r, "receiving"))
	if err != nil && c == nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithResult(w, r, http.StatusOK, "referral", c, err)
}

// RecordVitals handles POST /api/referrals/{id}/vitals
func (h *ReferralHandler) RecordVitals(w http.ResponseWriter, r *http.Request) {
	var req entities.Vitals
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	c, err := h.service.RecordVitals(r.Context(), r.PathValue("id"), req, actorFrom(r, "emt"))
	if err != nil && c == nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithResult(w, r, http.StatusOK, "referral", c, err)
}

// AddInterventions handles POST /api/referrals/{id}/interventions
func (h *ReferralHandler) AddInterventions(w http.ResponseWriter, r *http.Request) {
	var req interventionsRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	items, err := h.service.AddInterventions(r.Context(), r.PathValue("id"), req.Names, actorFrom(r, "emt"))
	if err != nil && items == nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithResult(w, r, http.StatusCreated, "interventions", map[string]interface{}{
		"interventions": items,
		"count":         len(items),
	}, err)
}

// ListInterventions handles GET /api/referrals/{id}/interventions
func (h *ReferralHandler) ListInterventions(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Interventions(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"interventions": items,
		"count":         len(items),
	})
}

// UpdateETA handles PATCH /api/referrals/{id}/eta
func (h *ReferralHandler) UpdateETA(w http.ResponseWriter, r *http.Request) {
	var req etaRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	c, err := h.service.UpdateETA(r.Context(), r.PathValue("id"), *req.ETAMin, actorFrom(r, "emt"))
	if err != nil && c == nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithResult(w, r, http.StatusOK, "referral", c, err)
}

// History handles GET /api/referrals/{id}/history
func (h *ReferralHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.History(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"count":   len(history),
	})
}

// RejectReasons handles GET /api/reject-reasons
func (h *ReferralHandler) RejectReasons(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"reasons": entities.RejectReasons,
	})
}

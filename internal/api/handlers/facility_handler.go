package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ahecn/referraldesk/internal/application/services"
	"github.com/ahecn/referraldesk/internal/domain/entities"
)

// Dashboard defines the receiving-facility projections used by the handler
type Dashboard interface {
	Queue(ctx context.Context, facility string) []*entities.ReferralCase
	Summary(ctx context.Context, facility string, day time.Time) (*services.FacilitySummary, error)
}

// ResourceService updates the capacity a facility advertises
type ResourceService interface {
	SetFacilityResources(ctx context.Context, facility string, icuOpen int) (entities.FacilityResources, error)
}

// FacilityHandler handles receiving-facility HTTP requests
type FacilityHandler struct {
	dashboard Dashboard
	resources ResourceService
	now       func() time.Time
}

// NewFacilityHandler creates a new facility handler
func NewFacilityHandler(dashboard Dashboard, resources ResourceService) *FacilityHandler {
	return &FacilityHandler{
		dashboard: dashboard,
		resources: resources,
		now:       time.Now,
	}
}

type resourcesRequest struct {
	ICUOpen *int `json:"icu_open" validate:"required,gte=0,lte=500"`
}

// GetQueue handles GET /api/facilities/{id}/queue
func (h *FacilityHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	facilityID := r.PathValue("id")
	if facilityID == "" {
		respondWithError(w, http.StatusBadRequest, "facility ID is required")
		return
	}

	queue := h.dashboard.Queue(r.Context(), facilityID)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"facility":  facilityID,
		"referrals": queue,
		"count":     len(queue),
	})
}

// GetSummary handles GET /api/facilities/{id}/summary?date=YYYY-MM-DD|today=true
func (h *FacilityHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	facilityID := r.PathValue("id")
	if facilityID == "" {
		respondWithError(w, http.StatusBadRequest, "facility ID is required")
		return
	}

	var day time.Time
	query := r.URL.Query()
	if raw := query.Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	} else if today, _ := strconv.ParseBool(query.Get("today")); today {
		day = h.now().UTC()
	}

	summary, err := h.dashboard.Summary(r.Context(), facilityID, day)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// UpdateResources handles PUT /api/facilities/{id}/resources
func (h *FacilityHandler) UpdateResources(w http.ResponseWriter, r *http.Request) {
	var req resourcesRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	res, err := h.resources.SetFacilityResources(r.Context(), r.PathValue("id"), *req.ICUOpen)
	respondWithResult(w, r, http.StatusOK, "resources", res, err)
}

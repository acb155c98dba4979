package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/domain/repositories"
	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

// NewReferral is the input for CreateReferral
type NewReferral struct {
	ID            string
	Patient       entities.Patient
	Referrer      entities.Referrer
	ProvisionalDx entities.ProvisionalDx
	Triage        entities.Triage
	Transport     entities.Transport
	Destination   string
}

// HistoryEntry is one line of a case timeline: an audit entry or a logged event
type HistoryEntry struct {
	Timestamp time.Time              `json:"ts"`
	Source    string                 `json:"source"`
	Action    string                 `json:"action"`
	Detail    string                 `json:"detail,omitempty"`
	EventID   int64                  `json:"event_id,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

const (
	HistorySourceAudit = "audit"
	HistorySourceEvent = "event"
)

// ReferralService is the only mutation entry point for referral cases. A change
// is made on a copy of the case, logged to the event log, and only then swapped
// into the case store and saved. Mutations are serialized.
type ReferralService struct {
	mu       sync.Mutex
	store    *CaseStore
	events   *EventService
	datasets repositories.DatasetRepository
	metrics  *observability.Metrics
	onChange func(ctx context.Context, facility string)
	now      func() time.Time
}

// ReferralServiceOption configures a ReferralService
type ReferralServiceOption func(*ReferralService)

// WithReferralMetrics records transition counters
func WithReferralMetrics(m *observability.Metrics) ReferralServiceOption {
	return func(s *ReferralService) { s.metrics = m }
}

// WithChangeHook is called with the destination facility after every mutation
func WithChangeHook(fn func(ctx context.Context, facility string)) ReferralServiceOption {
	return func(s *ReferralService) { s.onChange = fn }
}

// WithReferralClock overrides the clock used for milestones and audit entries
func WithReferralClock(now func() time.Time) ReferralServiceOption {
	return func(s *ReferralService) { s.now = now }
}

// NewReferralService creates a new referral service
func NewReferralService(store *CaseStore, events *EventService, datasets repositories.DatasetRepository, opts ...ReferralServiceOption) *ReferralService {
	s := &ReferralService{
		store:    store,
		events:   events,
		datasets: datasets,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory cases with the persisted dataset
func (s *ReferralService) Load(ctx context.Context) error {
	d, err := s.datasets.Load(ctx)
	if err != nil {
		return err
	}
	s.store.Replace(d)
	observability.LoggerFromContext(ctx).Info().
		Int("referrals", len(d.Referrals)).
		Int("facilities", len(d.Resources)).
		Msg("referral dataset loaded")
	return nil
}

// Flush writes the whole dataset to storage
func (s *ReferralService) Flush(ctx context.Context) error {
	if err := s.datasets.Save(ctx, s.store.Snapshot()); err != nil {
		if _, ok := apperrors.As(err); ok {
			return err
		}
		return apperrors.NewStorageUnavailableError("failed to save dataset", err)
	}
	return nil
}

// CreateReferral registers a new case in PREALERT
func (s *ReferralService) CreateReferral(ctx context.Context, in NewReferral, actor string) (*entities.ReferralCase, error) {
	if err := validateNewReferral(&in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := entities.NewReferralCase(in.ID, now)
	c.Patient = in.Patient
	c.Referrer = in.Referrer
	c.ProvisionalDx = in.ProvisionalDx
	c.Triage = in.Triage
	c.Transport = in.Transport
	c.Destination = in.Destination
	if c.Triage.Vitals != (entities.Vitals{}) {
		c.VitalsHistory = []entities.VitalsEntry{{Timestamp: now, Vitals: c.Triage.Vitals}}
	}
	detail := "referred"
	if c.Referrer.Facility != "" {
		detail = "referred by " + c.Referrer.Facility
	}
	c.AuditLog = append(c.AuditLog, entities.AuditEntry{Timestamp: now, Action: string(entities.StatusPreAlert), Detail: detail})

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.Get(c.ID); err == nil {
		return nil, apperrors.NewConflictError("referral " + c.ID + " already exists")
	}
	if _, err := s.publish(ctx, c.ID, actor, pendingEvent{entities.EventTypeStatusUpdate, statusPayload(c, "")}); err != nil {
		return nil, err
	}
	if err := s.store.Insert(c); err != nil {
		return nil, err
	}
	observability.CaseLogger(ctx, c.ID).Info().
		Str("dest", c.Destination).
		Str("triage", string(c.Triage.Color)).
		Msg("referral created")

	return c.Clone(), s.persist(ctx, c)
}

func validateNewReferral(in *NewReferral) error {
	if in.Destination == "" {
		return apperrors.NewValidationError("destination is required")
	}
	if !in.Triage.Color.IsValid() {
		return apperrors.NewValidationError(fmt.Sprintf("invalid triage color %q", in.Triage.Color))
	}
	if in.Transport.Priority == "" {
		in.Transport.Priority = entities.PriorityUrgent
	}
	if !in.Transport.Priority.IsValid() {
		return apperrors.NewValidationError(fmt.Sprintf("invalid priority %q", in.Transport.Priority))
	}
	if in.Transport.ETAMin != nil && *in.Transport.ETAMin < 0 {
		return apperrors.NewValidationError("eta_min must not be negative")
	}
	return validateVitals(in.Triage.Vitals)
}

func validateVitals(v entities.Vitals) error {
	if v.HR < 0 || v.SBP < 0 || v.RR < 0 || v.SpO2 < 0 || v.Temp < 0 {
		return apperrors.NewValidationError("vital signs must not be negative")
	}
	if v.SpO2 > 100 {
		return apperrors.NewValidationError("spo2 must be at most 100")
	}
	switch v.AVPU {
	case "", entities.AVPUAlert, entities.AVPUVerbal, entities.AVPUPain, entities.AVPUUnresponsive:
		return nil
	}
	return apperrors.NewValidationError(fmt.Sprintf("invalid avpu %q", v.AVPU))
}

// GetReferral returns one case
func (s *ReferralService) GetReferral(ctx context.Context, id string) (*entities.ReferralCase, error) {
	return s.store.Get(id)
}

// ListReferrals returns cases matching the filter, most recent first
func (s *ReferralService) ListReferrals(ctx context.Context, filter ReferralFilter) []*entities.ReferralCase {
	return s.store.List(filter)
}

// Accept accepts the referral
func (s *ReferralService) Accept(ctx context.Context, id, actor string) (*entities.ReferralCase, error) {
	return s.transition(ctx, id, entities.TransitionAccept, "", actor)
}

// MarkEnRoute records the ambulance leaving
func (s *ReferralService) MarkEnRoute(ctx context.Context, id, actor string) (*entities.ReferralCase, error) {
	return s.transition(ctx, id, entities.TransitionEnRoute, "", actor)
}

// MarkArrived records the patient arriving at the destination
func (s *ReferralService) MarkArrived(ctx context.Context, id, actor string) (*entities.ReferralCase, error) {
	return s.transition(ctx, id, entities.TransitionArrive, "", actor)
}

// MarkHandover records the clinical handover, closing the case
func (s *ReferralService) MarkHandover(ctx context.Context, id, actor string) (*entities.ReferralCase, error) {
	return s.transition(ctx, id, entities.TransitionHandover, "", actor)
}

// Reject declines the referral with one of entities.RejectReasons
func (s *ReferralService) Reject(ctx context.Context, id, reason, actor string) (*entities.ReferralCase, error) {
	return s.transition(ctx, id, entities.TransitionReject, reason, actor)
}

// Transition applies t by name; reason is only used by reject
func (s *ReferralService) Transition(ctx context.Context, id string, t entities.Transition, reason, actor string) (*entities.ReferralCase, error) {
	return s.transition(ctx, id, t, reason, actor)
}

func (s *ReferralService) transition(ctx context.Context, id string, t entities.Transition, reason, actor string) (*entities.ReferralCase, error) {
	ctx, span := observability.StartSpan(ctx, "referral."+string(t))
	defer span.End()

	var previous entities.ReferralStatus
	updated, err := s.mutate(ctx, id, actor, func(c *entities.ReferralCase) ([]pendingEvent, error) {
		previous = c.Status
		if err := c.Apply(t, reason, s.now().UTC()); err != nil {
			return nil, err
		}
		return []pendingEvent{{entities.EventTypeStatusUpdate, statusPayload(c, previous)}}, nil
	})
	if updated == nil {
		observability.RecordError(span, err)
		observability.CaseLogger(ctx, id).Debug().Err(err).Str("transition", string(t)).Msg("transition refused")
		return nil, err
	}

	observability.RecordTransition(ctx, s.metrics, string(t), string(updated.Status))
	observability.CaseLogger(ctx, id).Info().
		Str("transition", string(t)).
		Str("previous", string(previous)).
		Str("status", string(updated.Status)).
		Msg("referral status changed")

	return updated, err
}

// RecordVitals stores a new vitals reading and publishes it to the feed
func (s *ReferralService) RecordVitals(ctx context.Context, id string, v entities.Vitals, actor string) (*entities.ReferralCase, error) {
	v.AVPU = strings.ToUpper(strings.TrimSpace(v.AVPU))
	if err := validateVitals(v); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, actor, func(c *entities.ReferralCase) ([]pendingEvent, error) {
		if err := c.RecordVitals(v, s.now().UTC()); err != nil {
			return nil, err
		}
		return []pendingEvent{{entities.EventTypeVitalsUpdate, vitalsPayload(v)}}, nil
	})
}

// AddInterventions records crew interventions, one feed event per item
func (s *ReferralService) AddInterventions(ctx context.Context, id string, names []string, actor string) ([]entities.Intervention, error) {
	var cleaned []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	if len(cleaned) == 0 {
		return nil, apperrors.NewValidationError("at least one intervention is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, apperrors.NewInvalidTransitionError(string(c.Status), "addInterventions")
	}

	now := s.now().UTC()
	items := make([]entities.Intervention, 0, len(cleaned))
	pending := make([]pendingEvent, 0, len(cleaned))
	for _, n := range cleaned {
		it := entities.NewEMTIntervention(n, now)
		items = append(items, it)
		pending = append(pending, pendingEvent{entities.EventTypeInterventionAdded, map[string]interface{}{
			entities.PayloadName: it.Name,
			"type":               it.Type,
			"status":             it.Status,
		}})
	}

	// each item is its own event; the items already logged are kept
	logged, pubErr := s.publish(ctx, id, actor, pending...)
	if logged == 0 {
		return nil, pubErr
	}
	items = items[:logged]
	if err := c.AddAudit("INTERVENTION", strings.Join(cleaned[:logged], ", "), now); err != nil {
		return nil, err
	}
	if err := s.store.Put(c); err != nil {
		return nil, err
	}
	s.store.AddInterventions(id, items...)

	saveErr := s.persist(ctx, c)
	if pubErr != nil {
		return items, apperrors.NewStorageUnavailableError(
			fmt.Sprintf("recorded %d of %d interventions, retry the rest", logged, len(cleaned)), pubErr)
	}
	return items, saveErr
}

// Interventions returns the interventions recorded for a case
func (s *ReferralService) Interventions(ctx context.Context, id string) ([]entities.Intervention, error) {
	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}
	return s.store.Interventions(id), nil
}

// UpdateETA changes the transport ETA and publishes it as a status update
func (s *ReferralService) UpdateETA(ctx context.Context, id string, minutes int, actor string) (*entities.ReferralCase, error) {
	return s.mutate(ctx, id, actor, func(c *entities.ReferralCase) ([]pendingEvent, error) {
		if err := c.UpdateETA(minutes, s.now().UTC()); err != nil {
			return nil, err
		}
		return []pendingEvent{{entities.EventTypeStatusUpdate, statusPayload(c, c.Status)}}, nil
	})
}

// SetFacilityResources records the ICU beds a facility has open
func (s *ReferralService) SetFacilityResources(ctx context.Context, facility string, icuOpen int) (entities.FacilityResources, error) {
	if facility == "" {
		return entities.FacilityResources{}, apperrors.NewValidationError("facility is required")
	}
	if icuOpen < 0 {
		return entities.FacilityResources{}, apperrors.NewValidationError("icu_open must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.store.UpdateResources(facility, func(r *entities.FacilityResources, found bool) {
		if !found {
			r.AcceptanceRate = 0.75
		}
		r.ICUOpen = icuOpen
	})

	err := s.Flush(ctx)
	s.changed(ctx, facility)
	if err != nil {
		return res, apperrors.NewStorageUnavailableError("resources updated but the dataset could not be saved", err)
	}
	return res, nil
}

// History returns the case audit log merged with its events in time order
func (s *ReferralService) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	c, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	events, err := s.events.CaseEvents(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(c.AuditLog)+len(events))
	i, j := 0, 0
	for i < len(c.AuditLog) || j < len(events) {
		if j >= len(events) || (i < len(c.AuditLog) && !c.AuditLog[i].Timestamp.After(events[j].Timestamp)) {
			a := c.AuditLog[i]
			out = append(out, HistoryEntry{Timestamp: a.Timestamp, Source: HistorySourceAudit, Action: a.Action, Detail: a.Detail})
			i++
			continue
		}
		e := events[j]
		out = append(out, HistoryEntry{
			Timestamp: e.Timestamp,
			Source:    HistorySourceEvent,
			Action:    string(e.Type),
			EventID:   e.ID,
			Actor:     e.Actor,
			Payload:   e.Payload,
		})
		j++
	}
	return out, nil
}

type pendingEvent struct {
	eventType entities.EventType
	payload   map[string]interface{}
}

// mutate applies fn to a copy of the case and logs the events it returns. The
// copy replaces the stored case only once every event is in the log, so a
// failed append leaves no trace and the call can be retried.
func (s *ReferralService) mutate(ctx context.Context, id, actor string, fn func(c *entities.ReferralCase) ([]pendingEvent, error)) (*entities.ReferralCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	pending, err := fn(c)
	if err != nil {
		return nil, err
	}
	if _, err := s.publish(ctx, id, actor, pending...); err != nil {
		return nil, err
	}
	if err := s.store.Put(c); err != nil {
		return nil, err
	}
	return c.Clone(), s.persist(ctx, c)
}

// publish appends the events in order and stops at the first failure. It
// returns how many were logged.
func (s *ReferralService) publish(ctx context.Context, caseID, actor string, pending ...pendingEvent) (int, error) {
	for i, p := range pending {
		if _, err := s.events.Publish(ctx, p.eventType, caseID, actor, p.payload); err != nil {
			observability.CaseLogger(ctx, caseID).Warn().Err(err).
				Str("type", string(p.eventType)).
				Msg("event not logged, change discarded")
			if apperrors.IsType(err, apperrors.ErrorTypeStorageUnavailable) {
				appErr, _ := apperrors.As(err)
				return i, apperrors.NewStorageUnavailableError("event log unavailable, nothing was changed, retry later", appErr.Err)
			}
			return i, err
		}
	}
	return len(pending), nil
}

// persist saves the dataset after a logged change. The change stands when the
// save fails; the next successful save writes it.
func (s *ReferralService) persist(ctx context.Context, c *entities.ReferralCase) error {
	defer s.changed(ctx, c.Destination)

	if err := s.Flush(ctx); err != nil {
		observability.CaseLogger(ctx, c.ID).Warn().Err(err).Msg("change logged but dataset not saved")
		return apperrors.NewStorageUnavailableError("change recorded but the dataset could not be saved, it is saved with the next change", err)
	}
	return nil
}

func (s *ReferralService) changed(ctx context.Context, facility string) {
	if s.onChange != nil && facility != "" {
		s.onChange(ctx, facility)
	}
}

func statusPayload(c *entities.ReferralCase, previous entities.ReferralStatus) map[string]interface{} {
	p := map[string]interface{}{
		entities.PayloadStatus:   string(c.Status),
		entities.PayloadPrevious: string(previous),
		entities.PayloadTriage:   string(c.Triage.Color),
		entities.PayloadDest:     c.Destination,
	}
	if c.Status == entities.StatusRejected {
		p[entities.PayloadReason] = c.RejectReason
	}
	if c.Transport.ETAMin != nil {
		p[entities.PayloadETAMin] = *c.Transport.ETAMin
	}
	return p
}

// vitalsPayload carries measured readings only; zero means not taken
func vitalsPayload(v entities.Vitals) map[string]interface{} {
	p := map[string]interface{}{}
	for key, value := range map[string]int{"hr": v.HR, "sbp": v.SBP, "rr": v.RR, "spo2": v.SpO2} {
		if value > 0 {
			p[key] = value
		}
	}
	if v.Temp > 0 {
		p["temp"] = v.Temp
	}
	if v.AVPU != "" {
		p["avpu"] = v.AVPU
	}
	return p
}

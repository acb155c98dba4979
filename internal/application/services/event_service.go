package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/domain/providers"
	"github.com/ahecn/referraldesk/internal/domain/repositories"
	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

// EventService fronts the event log: it validates input, assigns timestamps
// and wakes stream subscribers after each append.
type EventService struct {
	repo         repositories.EventRepository
	signals      providers.SignalBus
	metrics      *observability.Metrics
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

// EventServiceOption configures an EventService
type EventServiceOption func(*EventService)

// WithSignalBus wakes subscribers after every publish
func WithSignalBus(bus providers.SignalBus) EventServiceOption {
	return func(s *EventService) { s.signals = bus }
}

// WithEventMetrics records published events
func WithEventMetrics(m *observability.Metrics) EventServiceOption {
	return func(s *EventService) { s.metrics = m }
}

// WithPollLimits overrides the default and maximum poll batch sizes
func WithPollLimits(defaultLimit, maxLimit int) EventServiceOption {
	return func(s *EventService) {
		s.defaultLimit = defaultLimit
		s.maxLimit = maxLimit
	}
}

// WithEventClock overrides the clock used for event timestamps
func WithEventClock(now func() time.Time) EventServiceOption {
	return func(s *EventService) { s.now = now }
}

// NewEventService creates a new event service
func NewEventService(repo repositories.EventRepository, opts ...EventServiceOption) *EventService {
	s := &EventService{
		repo:         repo,
		defaultLimit: 200,
		maxLimit:     1000,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish appends an event and returns its sequence id
func (s *EventService) Publish(ctx context.Context, eventType entities.EventType, caseID, actor string, payload map[string]interface{}) (int64, error) {
	if !eventType.IsValid() {
		return 0, apperrors.NewValidationError(fmt.Sprintf("unknown event type %q", eventType))
	}
	if caseID == "" {
		return 0, apperrors.NewValidationError("case_id is required")
	}

	ctx, span := observability.StartSpan(ctx, "eventlog.publish")
	defer span.End()

	event := entities.NewEvent(eventType, caseID, actor, payload, s.now().UTC())
	id, err := s.repo.Append(ctx, event)
	if err != nil {
		observability.RecordError(span, err)
		if _, ok := apperrors.As(err); ok {
			return 0, err
		}
		return 0, apperrors.NewStorageUnavailableError("failed to append event", err)
	}
	observability.RecordEventPublished(ctx, s.metrics, string(eventType))

	if s.signals != nil {
		if err := s.signals.Publish(ctx, caseID, id); err != nil {
			observability.CaseLogger(ctx, caseID).Warn().Err(err).Int64("event_id", id).Msg("failed to signal new event")
		}
	}
	return id, nil
}

// PollSince returns events with id > lastSeenID, ascending, at most limit entries.
// A limit of zero or less means the default; larger limits are capped.
func (s *EventService) PollSince(ctx context.Context, lastSeenID int64, caseID string, limit int) ([]*entities.Event, error) {
	if lastSeenID < 0 {
		return nil, apperrors.NewValidationError("last seen id must not be negative")
	}

	events, err := s.repo.ListSince(ctx, entities.EventQuery{
		AfterID: lastSeenID,
		CaseID:  caseID,
		Limit:   s.normalizeLimit(limit),
	})
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.NewStorageUnavailableError("failed to poll events", err)
	}
	return events, nil
}

// CaseEvents returns every event recorded for a case in log order
func (s *EventService) CaseEvents(ctx context.Context, caseID string) ([]*entities.Event, error) {
	var (
		all   []*entities.Event
		after int64
	)
	for {
		batch, err := s.PollSince(ctx, after, caseID, s.maxLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < s.maxLimit {
			return all, nil
		}
		after = batch[len(batch)-1].ID
	}
}

// LatestID returns the id of the newest event in the log
func (s *EventService) LatestID(ctx context.Context) (int64, error) {
	id, err := s.repo.LatestID(ctx)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return 0, err
		}
		return 0, apperrors.NewStorageUnavailableError("failed to read latest event id", err)
	}
	return id, nil
}

// Subscribe exposes wake-up signals for a case; nil when no bus is configured
func (s *EventService) Subscribe(ctx context.Context, caseID string) (<-chan int64, error) {
	if s.signals == nil {
		return nil, nil
	}
	return s.signals.Subscribe(ctx, caseID)
}

func (s *EventService) normalizeLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

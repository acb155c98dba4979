package services

import (
	"context"
	"sync"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

// AlertService holds the notification list shown to receiving staff.
// Alerts are immutable apart from the read flag; clearing removes them.
type AlertService struct {
	mu      sync.RWMutex
	alerts  []*entities.Alert
	metrics *observability.Metrics
}

// NewAlertService creates an empty notification list
func NewAlertService(metrics *observability.Metrics) *AlertService {
	return &AlertService{metrics: metrics}
}

// Add appends alerts to the list
func (s *AlertService) Add(ctx context.Context, alerts ...*entities.Alert) {
	if len(alerts) == 0 {
		return
	}
	s.mu.Lock()
	for _, a := range alerts {
		cp := *a
		s.alerts = append(s.alerts, &cp)
	}
	s.mu.Unlock()

	for _, a := range alerts {
		observability.RecordAlertRaised(ctx, s.metrics, string(a.Rule), string(a.Urgency))
		observability.CaseLogger(ctx, a.CaseID).Info().
			Str("rule", string(a.Rule)).
			Str("urgency", string(a.Urgency)).
			Int64("event_id", a.EventID).
			Msg(a.Title)
	}
}

// List returns alerts newest first, optionally only unread ones
func (s *AlertService) List(unreadOnly bool) []*entities.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entities.Alert, 0, len(s.alerts))
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if unreadOnly && a.Read {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// UnreadCount returns the number of unread alerts
func (s *AlertService) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.alerts {
		if !a.Read {
			n++
		}
	}
	return n
}

// MarkRead flags one alert as read
func (s *AlertService) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if a.ID == id {
			a.Read = true
			return nil
		}
	}
	return apperrors.NewNotFoundError("alert " + id + " not found")
}

// MarkAllRead flags every alert as read and returns how many changed
func (s *AlertService) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, a := range s.alerts {
		if !a.Read {
			a.Read = true
			n++
		}
	}
	return n
}

// Clear removes one alert
func (s *AlertService) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.alerts {
		if a.ID == id {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			return nil
		}
	}
	return apperrors.NewNotFoundError("alert " + id + " not found")
}

// ClearAll removes every alert and returns how many were removed
func (s *AlertService) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.alerts)
	s.alerts = nil
	return n
}

package handlers_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ahecn/referraldesk/internal/application/services"
	"github.com/ahecn/referraldesk/internal/domain/entities"
)

type MockReferralService struct {
	mock.Mock
}

func (m *MockReferralService) CreateReferral(ctx context.Context, in services.NewReferral, actor string) (*entities.ReferralCase, error) {
	args := m.Called(ctx, in, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ReferralCase), args.Error(1)
}

func (m *MockReferralService) GetReferral(ctx context.Context, id string) (*entities.ReferralCase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ReferralCase), args.Error(1)
}

func (m *MockReferralService) ListReferrals(ctx context.Context, filter services.ReferralFilter) []*entities.ReferralCase {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*entities.ReferralCase)
}

func (m *MockReferralService) Transition(ctx context.Context, id string, t entities.Transition, reason, actor string) (*entities.ReferralCase, error) {
	args := m.Called(ctx, id, t, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ReferralCase), args.Error(1)
}

func (m *MockReferralService) RecordVitals(ctx context.Context, id string, v entities.Vitals, actor string) (*entities.ReferralCase, error) {
	args := m.Called(ctx, id, v, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ReferralCase), args.Error(1)
}

func (m *MockReferralService) AddInterventions(ctx context.Context, id string, names []string, actor string) ([]entities.Intervention, error) {
	args := m.Called(ctx, id, names, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.Intervention), args.Error(1)
}

func (m *MockReferralService) Interventions(ctx context.Context, id string) ([]entities.Intervention, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.Intervention), args.Error(1)
}

func (m *MockReferralService) UpdateETA(ctx context.Context, id string, minutes int, actor string) (*entities.ReferralCase, error) {
	args := m.Called(ctx, id, minutes, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ReferralCase), args.Error(1)
}

func (m *MockReferralService) History(ctx context.Context, id string) ([]services.HistoryEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.HistoryEntry), args.Error(1)
}

type MockEventFeed struct {
	mock.Mock
}

func (m *MockEventFeed) Publish(ctx context.Context, eventType entities.EventType, caseID, actor string, payload map[string]interface{}) (int64, error) {
	args := m.Called(ctx, eventType, caseID, actor, payload)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEventFeed) PollSince(ctx context.Context, lastSeenID int64, caseID string, limit int) ([]*entities.Event, error) {
	args := m.Called(ctx, lastSeenID, caseID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Event), args.Error(1)
}

type MockAlertCenter struct {
	mock.Mock
}

func (m *MockAlertCenter) List(unreadOnly bool) []*entities.Alert {
	args := m.Called(unreadOnly)
	return args.Get(0).([]*entities.Alert)
}

func (m *MockAlertCenter) UnreadCount() int {
	return m.Called().Int(0)
}

func (m *MockAlertCenter) MarkRead(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockAlertCenter) MarkAllRead() int {
	return m.Called().Int(0)
}

func (m *MockAlertCenter) Clear(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockAlertCenter) ClearAll() int {
	return m.Called().Int(0)
}

type MockDashboard struct {
	mock.Mock
}

func (m *MockDashboard) Queue(ctx context.Context, facility string) []*entities.ReferralCase {
	args := m.Called(ctx, facility)
	return args.Get(0).([]*entities.ReferralCase)
}

func (m *MockDashboard) Summary(ctx context.Context, facility string, day time.Time) (*services.FacilitySummary, error) {
	args := m.Called(ctx, facility, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.FacilitySummary), args.Error(1)
}

type MockResourceService struct {
	mock.Mock
}

func (m *MockResourceService) SetFacilityResources(ctx context.Context, facility string, icuOpen int) (entities.FacilityResources, error) {
	args := m.Called(ctx, facility, icuOpen)
	return args.Get(0).(entities.FacilityResources), args.Error(1)
}

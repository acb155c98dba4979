package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahecn/referraldesk/internal/adapters/memory"
	"github.com/ahecn/referraldesk/internal/application/services"
	"github.com/ahecn/referraldesk/internal/domain/entities"
	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

type referralFixture struct {
	store    *services.CaseStore
	log      *memory.EventLog
	events   *services.EventService
	datasets *memoryDatasets
	svc      *services.ReferralService
	changed  []string
}

func newReferralFixture(t *testing.T) *referralFixture {
	t.Helper()
	clock := fixedClock(ruleNow)
	f := &referralFixture{
		store:    services.NewCaseStore(),
		log:      memory.NewEventLog(),
		datasets: &memoryDatasets{},
	}
	f.events = services.NewEventService(f.log, services.WithEventClock(clock))
	f.svc = services.NewReferralService(f.store, f.events, f.datasets,
		services.WithReferralClock(clock),
		services.WithChangeHook(func(ctx context.Context, facility string) {
			f.changed = append(f.changed, facility)
		}))
	return f
}

func (f *referralFixture) create(t *testing.T, id string, color entities.TriageColor) *entities.ReferralCase {
	t.Helper()
	c, err := f.svc.CreateReferral(context.Background(), services.NewReferral{
		ID:          id,
		Patient:     entities.Patient{Name: "Ama Mensah", Age: 29, Sex: "F"},
		Referrer:    entities.Referrer{Name: "Dr. Owusu", Facility: "Ejisu Government Hospital"},
		Triage:      entities.Triage{Complaint: "Maternal", Color: color},
		Transport:   entities.Transport{Ambulance: "ALS"},
		Destination: "KATH",
	}, "referrer")
	require.NoError(t, err)
	return c
}

func TestReferralService_CreateReferral(t *testing.T) {
	f := newReferralFixture(t)

	c := f.create(t, "C1", entities.TriageRed)

	assert.Equal(t, entities.StatusPreAlert, c.Status)
	assert.True(t, c.Times.Has(entities.MilestoneFirstContact))
	assert.Equal(t, entities.PriorityUrgent, c.Transport.Priority)
	require.Len(t, c.AuditLog, 1)
	assert.Equal(t, "referred by Ejisu Government Hospital", c.AuditLog[0].Detail)
	assert.Equal(t, 1, f.log.Len())
	assert.Equal(t, 1, f.datasets.Saves())
	assert.Equal(t, []string{"KATH"}, f.changed)

	_, err := f.svc.CreateReferral(context.Background(), services.NewReferral{ID: "C1", Destination: "KATH", Triage: entities.Triage{Color: entities.TriageRed}}, "referrer")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestReferralService_CreateReferralValidation(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   services.NewReferral
	}{
		{"missing destination", services.NewReferral{Triage: entities.Triage{Color: entities.TriageRed}}},
		{"unknown color", services.NewReferral{Destination: "KATH", Triage: entities.Triage{Color: "BLUE"}}},
		{"unknown priority", services.NewReferral{Destination: "KATH", Triage: entities.Triage{Color: entities.TriageRed}, Transport: entities.Transport{Priority: "Whenever"}}},
		{"bad avpu", services.NewReferral{Destination: "KATH", Triage: entities.Triage{Color: entities.TriageRed, Vitals: entities.Vitals{AVPU: "X"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateReferral(ctx, tt.in, "referrer")
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
		})
	}
	assert.Equal(t, 0, f.log.Len())
}

func TestReferralService_AcceptThenEnRouteThenHandoverFails(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	f.create(t, "C2", entities.TriageYellow)

	c, err := f.svc.Accept(ctx, "C2", "er")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusAccepted, c.Status)

	c, err = f.svc.MarkEnRoute(ctx, "C2", "emt")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusEnRoute, c.Status)
	assert.True(t, c.Times.Has(entities.MilestoneDispatch))
	assert.True(t, c.Times.Has(entities.MilestoneEnRoute))

	_, err = f.svc.MarkHandover(ctx, "C2", "er")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidTransition))

	stored, err := f.svc.GetReferral(ctx, "C2")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusEnRoute, stored.Status)
}

func TestReferralService_RejectIsTerminal(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	f.create(t, "C3", entities.TriageGreen)

	c, err := f.svc.Reject(ctx, "C3", "No ICU bed", "er")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusRejected, c.Status)
	last, ok := c.LastAudit()
	require.True(t, ok)
	assert.Equal(t, "REJECTED", last.Action)
	assert.Equal(t, "No ICU bed", last.Detail)

	_, err = f.svc.Accept(ctx, "C3", "er")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidTransition))

	_, err = f.svc.Reject(ctx, "C3", "No ICU bed", "er")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidTransition))
}

func TestReferralService_RejectUnknownReason(t *testing.T) {
	f := newReferralFixture(t)
	f.create(t, "C4", entities.TriageGreen)
	before := f.log.Len()

	_, err := f.svc.Reject(context.Background(), "C4", "Too busy", "er")

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Equal(t, before, f.log.Len())
	c, _ := f.svc.GetReferral(context.Background(), "C4")
	assert.Equal(t, entities.StatusPreAlert, c.Status)
}

func TestReferralService_TransitionsPublishStatusUpdates(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	f.create(t, "C5", entities.TriageRed)

	_, err := f.svc.Accept(ctx, "C5", "er")
	require.NoError(t, err)

	events, err := f.events.PollSince(ctx, 0, "C5", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	accepted := events[1]
	assert.Equal(t, entities.EventTypeStatusUpdate, accepted.Type)
	assert.Equal(t, "ACCEPTED", accepted.Payload["status"])
	assert.Equal(t, "PREALERT", accepted.Payload["previous"])
	assert.Equal(t, "RED", accepted.Payload["triage"])
	assert.Equal(t, "er", accepted.Actor)

	rules := services.NewAlertRules(services.DefaultAlertRuleConfig())
	alerts := rules.Evaluate(accepted, ruleNow)
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.RuleRedAccepted, alerts[0].Rule)
}

func TestReferralService_RecordVitalsPublishesMeasuredValues(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	f.create(t, "C6", entities.TriageYellow)

	c, err := f.svc.RecordVitals(ctx, "C6", entities.Vitals{SBP: 80, SpO2: 95, AVPU: "a"}, "emt")
	require.NoError(t, err)
	assert.Equal(t, 80, c.Triage.Vitals.SBP)
	assert.Equal(t, "A", c.Triage.Vitals.AVPU)
	require.Len(t, c.VitalsHistory, 1)

	events, err := f.events.PollSince(ctx, 1, "C6", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entities.EventTypeVitalsUpdate, events[0].Type)
	assert.Equal(t, 80, events[0].Payload["sbp"])
	assert.NotContains(t, events[0].Payload, "hr")

	_, err = f.svc.RecordVitals(ctx, "C6", entities.Vitals{SpO2: 140}, "emt")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestReferralService_AddInterventions(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	f.create(t, "C7", entities.TriageRed)

	items, err := f.svc.AddInterventions(ctx, "C7", []string{"Oxygen", " ", "TXA"}, "emt")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "emt", items[0].Type)
	assert.Equal(t, "completed", items[0].Status)

	stored, err := f.svc.Interventions(ctx, "C7")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	events, err := f.events.PollSince(ctx, 1, "C7", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Oxygen", events[0].Payload["name"])
	assert.Equal(t, "TXA", events[1].Payload["name"])

	_, err = f.svc.AddInterventions(ctx, "C7", []string{""}, "emt")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestReferralService_UpdateETA(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	f.create(t, "C8", entities.TriageYellow)
	_, err := f.svc.MarkEnRoute(ctx, "C8", "emt")
	require.NoError(t, err)

	c, err := f.svc.UpdateETA(ctx, "C8", 12, "emt")
	require.NoError(t, err)
	assert.Equal(t, 12, c.ETA())

	events, err := f.events.PollSince(ctx, 2, "C8", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ENROUTE", events[0].Payload["status"])
	assert.Equal(t, "ENROUTE", events[0].Payload["previous"])
	assert.Equal(t, 12, events[0].Payload["eta_min"])

	_, err = f.svc.UpdateETA(ctx, "C8", -3, "emt")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestReferralService_History(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	f.create(t, "C9", entities.TriageYellow)
	_, err := f.svc.Accept(ctx, "C9", "er")
	require.NoError(t, err)

	history, err := f.svc.History(ctx, "C9")
	require.NoError(t, err)

	require.Len(t, history, 4)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
	sources := map[string]int{}
	for _, h := range history {
		sources[h.Source]++
	}
	assert.Equal(t, 2, sources[services.HistorySourceAudit])
	assert.Equal(t, 2, sources[services.HistorySourceEvent])

	_, err = f.svc.History(ctx, "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestReferralService_EventLogFailureLeavesCaseUntouched(t *testing.T) {
	store := services.NewCaseStore()
	require.NoError(t, store.Insert(newCase("C10", "KATH", ruleNow)))
	repo := new(MockEventRepository)
	repo.On("Append", mock.Anything, mock.Anything).Return(int64(0), errors.New("database is down"))
	datasets := &memoryDatasets{}
	svc := services.NewReferralService(store, services.NewEventService(repo), datasets)

	c, err := svc.Accept(context.Background(), "C10", "er")

	assert.Nil(t, c)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStorageUnavailable))
	stored, _ := store.Get("C10")
	assert.Equal(t, entities.StatusPreAlert, stored.Status)
	assert.Empty(t, stored.AuditLog)
	assert.False(t, stored.Times.Has(entities.MilestoneDecision))
	assert.Equal(t, 0, datasets.Saves())
}

func TestReferralService_RejectCanBeRetriedAfterEventLogFailure(t *testing.T) {
	store := services.NewCaseStore()
	require.NoError(t, store.Insert(newCase("C3", "KATH", ruleNow)))
	repo := new(MockEventRepository)
	repo.On("Append", mock.Anything, mock.Anything).Return(int64(0), errors.New("connection reset")).Once()
	repo.On("Append", mock.Anything, mock.Anything).Return(int64(1), nil).Once()
	svc := services.NewReferralService(store, services.NewEventService(repo), &memoryDatasets{})
	ctx := context.Background()

	_, err := svc.Reject(ctx, "C3", "No ICU bed", "er")
	require.True(t, apperrors.IsType(err, apperrors.ErrorTypeStorageUnavailable))

	c, err := svc.Reject(ctx, "C3", "No ICU bed", "er")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusRejected, c.Status)
	require.Len(t, c.AuditLog, 1)

	repo.AssertNumberOfCalls(t, "Append", 2)
	logged := repo.Calls[1].Arguments.Get(1).(*entities.Event)
	assert.Equal(t, entities.EventTypeStatusUpdate, logged.Type)
	assert.Equal(t, "REJECTED", logged.Payload["status"])
	assert.Equal(t, "No ICU bed", logged.Payload["reason"])
}

func TestReferralService_CreateReferralNotStoredWhenLogFails(t *testing.T) {
	repo := new(MockEventRepository)
	repo.On("Append", mock.Anything, mock.Anything).Return(int64(0), errors.New("database is down"))
	store := services.NewCaseStore()
	svc := services.NewReferralService(store, services.NewEventService(repo), &memoryDatasets{})

	c, err := svc.CreateReferral(context.Background(), services.NewReferral{
		ID:          "C13",
		Destination: "KATH",
		Triage:      entities.Triage{Color: entities.TriageRed},
	}, "referrer")

	assert.Nil(t, c)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStorageUnavailable))
	_, err = store.Get("C13")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestReferralService_AddInterventionsKeepsOnlyLoggedItems(t *testing.T) {
	store := services.NewCaseStore()
	require.NoError(t, store.Insert(newCase("C14", "KATH", ruleNow)))
	repo := new(MockEventRepository)
	repo.On("Append", mock.Anything, mock.Anything).Return(int64(1), nil).Once()
	repo.On("Append", mock.Anything, mock.Anything).Return(int64(0), errors.New("connection reset")).Once()
	svc := services.NewReferralService(store, services.NewEventService(repo), &memoryDatasets{})

	items, err := svc.AddInterventions(context.Background(), "C14", []string{"Oxygen", "TXA"}, "emt")

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStorageUnavailable))
	require.Len(t, items, 1)
	assert.Equal(t, "Oxygen", items[0].Name)
	stored, err := svc.Interventions(context.Background(), "C14")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	c, _ := store.Get("C14")
	last, ok := c.LastAudit()
	require.True(t, ok)
	assert.Equal(t, "Oxygen", last.Detail)
}

func TestReferralService_DatasetSaveFailure(t *testing.T) {
	f := newReferralFixture(t)
	f.create(t, "C11", entities.TriageYellow)
	f.datasets.saveErr = errors.New("read-only file system")

	c, err := f.svc.Accept(context.Background(), "C11", "er")

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStorageUnavailable))
	require.NotNil(t, c)
	assert.Equal(t, entities.StatusAccepted, c.Status)
	assert.Equal(t, 2, f.log.Len(), "the event is still logged")

	f.datasets.saveErr = nil
	_, err = f.svc.RecordVitals(context.Background(), "C11", entities.Vitals{HR: 100}, "emt")
	require.NoError(t, err)
	saved, err := f.datasets.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, saved.Referrals, 1)
	assert.Equal(t, entities.StatusAccepted, saved.Referrals[0].Status, "the next save carries the earlier change")
}

func TestReferralService_PersistAndReload(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	f.create(t, "C12", entities.TriageRed)
	_, err := f.svc.Accept(ctx, "C12", "er")
	require.NoError(t, err)
	_, err = f.svc.MarkEnRoute(ctx, "C12", "emt")
	require.NoError(t, err)
	original, _ := f.svc.GetReferral(ctx, "C12")

	reloaded := services.NewReferralService(services.NewCaseStore(), f.events, f.datasets)
	require.NoError(t, reloaded.Load(ctx))

	got, err := reloaded.GetReferral(ctx, "C12")
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestReferralService_SetFacilityResources(t *testing.T) {
	f := newReferralFixture(t)

	res, err := f.svc.SetFacilityResources(context.Background(), "KATH", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ICUOpen)
	assert.Equal(t, 0.75, res.AcceptanceRate)
	assert.Equal(t, []string{"KATH"}, f.changed)

	_, err = f.svc.SetFacilityResources(context.Background(), "KATH", -1)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestReferralService_ListReferrals(t *testing.T) {
	f := newReferralFixture(t)
	f.create(t, "A", entities.TriageRed)
	f.create(t, "B", entities.TriageYellow)
	_, err := f.svc.Reject(context.Background(), "A", "Over capacity", "er")
	require.NoError(t, err)

	active := f.svc.ListReferrals(context.Background(), services.ReferralFilter{
		Destination: "KATH",
		Statuses:    []entities.ReferralStatus{entities.StatusPreAlert},
	})

	require.Len(t, active, 1)
	assert.Equal(t, "B", active[0].ID)
	assert.WithinDuration(t, ruleNow, active[0].Times[entities.MilestoneFirstContact], time.Minute)
}

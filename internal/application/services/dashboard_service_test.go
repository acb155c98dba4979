package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahecn/referraldesk/internal/adapters/memory"
	"github.com/ahecn/referraldesk/internal/application/services"
	"github.com/ahecn/referraldesk/internal/domain/entities"
)

var dayStart = time.Date(2025, 3, 14, 6, 0, 0, 0, time.UTC)

type caseBuilder struct {
	t *testing.T
	c *entities.ReferralCase
}

func build(t *testing.T, id string, color entities.TriageColor, priority entities.Priority) *caseBuilder {
	c := newCase(id, "KATH", dayStart)
	c.Triage.Color = color
	c.Transport.Priority = priority
	return &caseBuilder{t: t, c: c}
}

func (b *caseBuilder) accept(at time.Duration) *caseBuilder {
	require.NoError(b.t, b.c.Accept(dayStart.Add(at)))
	return b
}

func (b *caseBuilder) enroute(at time.Duration) *caseBuilder {
	require.NoError(b.t, b.c.MarkEnRoute(dayStart.Add(at)))
	return b
}

func (b *caseBuilder) arrive(at time.Duration) *caseBuilder {
	require.NoError(b.t, b.c.MarkArrived(dayStart.Add(at)))
	return b
}

func (b *caseBuilder) handover(at time.Duration) *caseBuilder {
	require.NoError(b.t, b.c.MarkHandover(dayStart.Add(at)))
	return b
}

func (b *caseBuilder) reject(at time.Duration) *caseBuilder {
	require.NoError(b.t, b.c.Reject("No specialist", dayStart.Add(at)))
	return b
}

func (b *caseBuilder) eta(minutes int) *caseBuilder {
	b.c.Transport.ETAMin = &minutes
	return b
}

func seedStore(t *testing.T, builders ...*caseBuilder) *services.CaseStore {
	store := services.NewCaseStore()
	for _, b := range builders {
		require.NoError(t, store.Insert(b.c))
	}
	return store
}

func TestDashboardService_QueueOrdering(t *testing.T) {
	store := seedStore(t,
		build(t, "ENROUTE", entities.TriageRed, entities.PrioritySTAT).accept(0).enroute(5*time.Minute),
		build(t, "PRE-ROUTINE", entities.TriageGreen, entities.PriorityRoutine),
		build(t, "PRE-STAT", entities.TriageRed, entities.PrioritySTAT),
		build(t, "ACC-EARLY", entities.TriageYellow, entities.PriorityUrgent).accept(time.Minute),
		build(t, "ACC-LATE", entities.TriageYellow, entities.PriorityUrgent).accept(20*time.Minute),
		build(t, "DONE", entities.TriageYellow, entities.PriorityUrgent).accept(0).enroute(time.Minute).arrive(2*time.Minute).handover(3*time.Minute),
		build(t, "REJECTED", entities.TriageYellow, entities.PrioritySTAT).reject(time.Minute),
	)
	svc := services.NewDashboardService(store, nil, nil)

	queue := svc.Queue(context.Background(), "KATH")

	ids := make([]string, 0, len(queue))
	for _, c := range queue {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"PRE-STAT", "PRE-ROUTINE", "ACC-LATE", "ACC-EARLY", "ENROUTE"}, ids)
	assert.Empty(t, svc.Queue(context.Background(), "KBTH"))
}

func TestDashboardService_SummaryKPIs(t *testing.T) {
	store := seedStore(t,
		build(t, "PRE", entities.TriageRed, entities.PrioritySTAT),
		build(t, "ACC", entities.TriageYellow, entities.PriorityUrgent).accept(0),
		build(t, "ENR", entities.TriageRed, entities.PriorityUrgent).accept(0).enroute(5*time.Minute).eta(10),
		build(t, "ARR", entities.TriageYellow, entities.PriorityUrgent).accept(0).enroute(10*time.Minute).arrive(40*time.Minute).eta(20),
		build(t, "HND", entities.TriageGreen, entities.PriorityRoutine).accept(0).enroute(3*time.Minute).arrive(23*time.Minute).handover(33*time.Minute),
		build(t, "REJ", entities.TriageGreen, entities.PriorityRoutine).reject(time.Minute),
	)
	store.SetResources("KATH", entities.FacilityResources{ICUOpen: 2, AcceptanceRate: 0.75})
	svc := services.NewDashboardService(store, nil, nil)

	s, err := svc.Summary(context.Background(), "KATH", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 3, s.AwaitingOrActive)
	assert.Equal(t, 1, s.EnRoute)
	assert.Equal(t, 1, s.Arrived)
	assert.Equal(t, 1, s.Handover)
	assert.Equal(t, 1, s.Rejected)
	assert.InDelta(t, 83.33, s.AcceptanceRate, 0.01)
	assert.InDelta(t, 33.33, s.RedShare, 0.01)
	assert.Equal(t, 15.0, s.AverageETAMin)
	assert.Equal(t, 2, s.ICUOpen)
	assert.Equal(t, 5.0, s.MedianDecisionToDispatchMin)
	assert.Equal(t, 25.0, s.MedianDispatchToArrivalMin)
	assert.Equal(t, 10.0, s.MedianArrivalToHandoverMin)

	res, ok := store.Resources("KATH")
	require.True(t, ok)
	assert.Equal(t, 0.83, res.AcceptanceRate)
}

func TestDashboardService_SummaryEmptyFacility(t *testing.T) {
	store := services.NewCaseStore()
	svc := services.NewDashboardService(store, nil, nil)

	s, err := svc.Summary(context.Background(), "KBTH", time.Time{})

	require.NoError(t, err)
	assert.Equal(t, 0, s.Total)
	assert.Zero(t, s.AcceptanceRate)
	assert.Zero(t, s.AverageETAMin)
	assert.Zero(t, s.MedianDecisionToDispatchMin)

	_, ok := store.Resources("KBTH")
	assert.False(t, ok)
}

func TestDashboardService_SummaryForDay(t *testing.T) {
	yesterday := newCase("OLD", "KATH", dayStart.Add(-24*time.Hour))
	store := seedStore(t, build(t, "TODAY", entities.TriageRed, entities.PrioritySTAT))
	require.NoError(t, store.Insert(yesterday))
	svc := services.NewDashboardService(store, nil, nil)

	s, err := svc.Summary(context.Background(), "KATH", dayStart)

	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, "2025-03-14", s.Date)
}

func TestDashboardService_SummaryIsCachedUntilInvalidated(t *testing.T) {
	store := seedStore(t, build(t, "ONE", entities.TriageRed, entities.PrioritySTAT))
	cache := NewMockCacheProvider()
	svc := services.NewDashboardService(store, cache, nil)
	ctx := context.Background()

	first, err := svc.Summary(ctx, "KATH", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)
	assert.True(t, cache.Has("summary:KATH"))

	require.NoError(t, store.Insert(newCase("TWO", "KATH", dayStart)))

	cached, err := svc.Summary(ctx, "KATH", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Total)

	svc.Invalidate(ctx, "KATH")
	assert.False(t, cache.Has("summary:KATH"))

	fresh, err := svc.Summary(ctx, "KATH", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Total)
}

func TestDashboardService_SummaryNeverOverwritesICUBeds(t *testing.T) {
	store := seedStore(t, build(t, "C1", entities.TriageRed, entities.PriorityUrgent).accept(time.Minute))
	store.SetResources("KATH", entities.FacilityResources{ICUOpen: 1, AcceptanceRate: 0.5})
	dashboard := services.NewDashboardService(store, nil, nil)
	referrals := services.NewReferralService(store, services.NewEventService(memory.NewEventLog()), &memoryDatasets{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := dashboard.Summary(ctx, "KATH", time.Time{})
			assert.NoError(t, err)
		}()
		go func(beds int) {
			defer wg.Done()
			_, err := referrals.SetFacilityResources(ctx, "KATH", beds)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, err := referrals.SetFacilityResources(ctx, "KATH", 7)
	require.NoError(t, err)
	_, err = dashboard.Summary(ctx, "KATH", time.Time{})
	require.NoError(t, err)

	res, ok := store.Resources("KATH")
	require.True(t, ok)
	assert.Equal(t, 7, res.ICUOpen)
	assert.Equal(t, 1.0, res.AcceptanceRate)
}

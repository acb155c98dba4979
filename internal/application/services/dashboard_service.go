package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/domain/providers"
	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
)

const summaryCacheTTL = 10 * time.Second

// FacilitySummary is the KPI strip of the receiving dashboard
type FacilitySummary struct {
	Facility                    string    `json:"facility"`
	Date                        string    `json:"date,omitempty"`
	Total                       int       `json:"total"`
	AwaitingOrActive            int       `json:"awaiting_active"`
	PreAlert                    int       `json:"prealert"`
	Accepted                    int       `json:"accepted"`
	EnRoute                     int       `json:"enroute"`
	Arrived                     int       `json:"arrived"`
	Handover                    int       `json:"handover"`
	Rejected                    int       `json:"rejected"`
	AcceptanceRate              float64   `json:"acceptance_rate"`
	AverageETAMin               float64   `json:"avg_eta_min"`
	ICUOpen                     int       `json:"icu_open"`
	RedShare                    float64   `json:"red_share"`
	MedianDecisionToDispatchMin float64   `json:"median_decision_to_dispatch_min"`
	MedianDispatchToArrivalMin  float64   `json:"median_dispatch_to_arrival_min"`
	MedianArrivalToHandoverMin  float64   `json:"median_arrival_to_handover_min"`
	GeneratedAt                 time.Time `json:"generated_at"`
}

// DashboardService computes the receiving work queue and KPI summary
type DashboardService struct {
	store   *CaseStore
	cache   providers.CacheProvider
	metrics *observability.Metrics
	now     func() time.Time
}

// NewDashboardService creates a dashboard service; cache may be nil
func NewDashboardService(store *CaseStore, cache providers.CacheProvider, metrics *observability.Metrics) *DashboardService {
	return &DashboardService{
		store:   store,
		cache:   cache,
		metrics: metrics,
		now:     time.Now,
	}
}

// Queue returns the facility's active referrals in working order:
// status, then priority (STAT first), then most recent decision
func (s *DashboardService) Queue(ctx context.Context, facility string) []*entities.ReferralCase {
	cases := s.store.List(ReferralFilter{
		Destination: facility,
		Statuses:    []entities.ReferralStatus{entities.StatusPreAlert, entities.StatusAccepted, entities.StatusEnRoute, entities.StatusArrived},
	})
	sort.SliceStable(cases, func(i, j int) bool {
		a, b := cases[i], cases[j]
		if a.Status.Rank() != b.Status.Rank() {
			return a.Status.Rank() < b.Status.Rank()
		}
		if a.Transport.Priority.Rank() != b.Transport.Priority.Rank() {
			return a.Transport.Priority.Rank() < b.Transport.Priority.Rank()
		}
		return decisionTime(a).After(decisionTime(b))
	})
	return cases
}

func decisionTime(c *entities.ReferralCase) time.Time {
	if t := c.Times.Get(entities.MilestoneDecision); t != nil {
		return *t
	}
	return time.Time{}
}

// Summary returns the facility KPIs. A non-zero day restricts the summary to
// referrals first contacted on that UTC calendar day.
func (s *DashboardService) Summary(ctx context.Context, facility string, day time.Time) (*FacilitySummary, error) {
	key := summaryKey(facility, day)
	if cached := s.cached(ctx, key); cached != nil {
		return cached, nil
	}

	cases := s.store.List(ReferralFilter{Destination: facility})
	if !day.IsZero() {
		cases = onDay(cases, day)
	}
	summary := computeSummary(facility, cases)
	if !day.IsZero() {
		summary.Date = day.UTC().Format(time.DateOnly)
	}
	if res, ok := s.store.Resources(facility); ok {
		summary.ICUOpen = res.ICUOpen
	}
	summary.GeneratedAt = s.now().UTC()

	if summary.Total > 0 {
		rate := math.Round(summary.AcceptanceRate) / 100
		s.store.UpdateResources(facility, func(r *entities.FacilityResources, _ bool) {
			r.AcceptanceRate = rate
		})
	}

	if s.cache != nil {
		if data, err := json.Marshal(summary); err == nil {
			if err := s.cache.Set(ctx, key, data, summaryCacheTTL); err != nil {
				observability.LoggerFromContext(ctx).Warn().Err(err).Str("key", key).Msg("failed to cache summary")
			}
		}
	}
	return summary, nil
}

// Invalidate drops the cached summaries of a facility
func (s *DashboardService) Invalidate(ctx context.Context, facility string) {
	if s.cache == nil {
		return
	}
	keys := []string{summaryKey(facility, time.Time{}), summaryKey(facility, s.now())}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("facility", facility).Msg("failed to invalidate summary cache")
	}
}

func (s *DashboardService) cached(ctx context.Context, key string) *FacilitySummary {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, providers.ErrCacheMiss) {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("key", key).Msg("summary cache unavailable")
		}
		observability.RecordCacheMiss(ctx, s.metrics, "summary")
		return nil
	}
	var summary FacilitySummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil
	}
	observability.RecordCacheHit(ctx, s.metrics, "summary")
	return &summary
}

func summaryKey(facility string, day time.Time) string {
	if day.IsZero() {
		return "summary:" + facility
	}
	return "summary:" + facility + ":" + day.UTC().Format(time.DateOnly)
}

func onDay(cases []*entities.ReferralCase, day time.Time) []*entities.ReferralCase {
	y, m, d := day.UTC().Date()
	out := cases[:0]
	for _, c := range cases {
		fc := c.Times.Get(entities.MilestoneFirstContact)
		if fc == nil {
			continue
		}
		if cy, cm, cd := fc.UTC().Date(); cy == y && cm == m && cd == d {
			out = append(out, c)
		}
	}
	return out
}

func computeSummary(facility string, cases []*entities.ReferralCase) *FacilitySummary {
	s := &FacilitySummary{Facility: facility, Total: len(cases)}

	var (
		etas           []float64
		red            int
		toDispatch     []float64
		toArrival      []float64
		arriveHandover []float64
	)
	for _, c := range cases {
		switch c.Status {
		case entities.StatusPreAlert:
			s.PreAlert++
		case entities.StatusAccepted:
			s.Accepted++
		case entities.StatusEnRoute:
			s.EnRoute++
		case entities.StatusArrived:
			s.Arrived++
		case entities.StatusHandover:
			s.Handover++
		case entities.StatusRejected:
			s.Rejected++
		}
		if (c.Status == entities.StatusEnRoute || c.Status == entities.StatusArrived) && c.Transport.ETAMin != nil {
			etas = append(etas, float64(*c.Transport.ETAMin))
		}
		if c.Triage.Color == entities.TriageRed {
			red++
		}
		if m, ok := minutesBetween(c.Times, entities.MilestoneDecision, entities.MilestoneDispatch); ok {
			toDispatch = append(toDispatch, m)
		}
		if m, ok := minutesBetween(c.Times, entities.MilestoneDispatch, entities.MilestoneArriveDest); ok {
			toArrival = append(toArrival, m)
		}
		if m, ok := minutesBetween(c.Times, entities.MilestoneArriveDest, entities.MilestoneHandover); ok {
			arriveHandover = append(arriveHandover, m)
		}
	}

	s.AwaitingOrActive = s.PreAlert + s.Accepted + s.EnRoute
	if s.Total > 0 {
		s.AcceptanceRate = 100 * float64(s.Total-s.Rejected) / float64(s.Total)
		s.RedShare = 100 * float64(red) / float64(s.Total)
	}
	if len(etas) > 0 {
		sum := 0.0
		for _, e := range etas {
			sum += e
		}
		s.AverageETAMin = math.Round(sum/float64(len(etas))*10) / 10
	}
	s.MedianDecisionToDispatchMin = median(toDispatch)
	s.MedianDispatchToArrivalMin = median(toArrival)
	s.MedianArrivalToHandoverMin = median(arriveHandover)
	return s
}

func minutesBetween(times entities.Milestones, from, to entities.Milestone) (float64, bool) {
	a, okA := times[from]
	b, okB := times[to]
	if !okA || !okB {
		return 0, false
	}
	return b.Sub(a).Minutes(), true
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

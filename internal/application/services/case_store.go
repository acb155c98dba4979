package services

import (
	"sort"
	"sync"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

// ReferralFilter narrows ListReferrals
type ReferralFilter struct {
	Destination string
	Statuses    []entities.ReferralStatus
}

func (f ReferralFilter) matches(c *entities.ReferralCase) bool {
	if f.Destination != "" && c.Destination != f.Destination {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if c.Status == s {
			return true
		}
	}
	return false
}

// CaseStore owns the in-memory referral state. Readers get copies; writers
// mutate a copy and swap it in, so status, milestone and audit entry land together.
type CaseStore struct {
	mu            sync.RWMutex
	cases         map[string]*entities.ReferralCase
	order         []string
	interventions map[string][]entities.Intervention
	resources     map[string]entities.FacilityResources
}

// NewCaseStore creates an empty store
func NewCaseStore() *CaseStore {
	return &CaseStore{
		cases:         make(map[string]*entities.ReferralCase),
		interventions: make(map[string][]entities.Intervention),
		resources:     make(map[string]entities.FacilityResources),
	}
}

// Replace swaps the whole store content for the dataset
func (s *CaseStore) Replace(d *entities.Dataset) {
	d = d.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cases = make(map[string]*entities.ReferralCase, len(d.Referrals))
	s.order = s.order[:0]
	for _, c := range d.Referrals {
		if _, dup := s.cases[c.ID]; dup {
			continue
		}
		s.cases[c.ID] = c.Clone()
		s.order = append(s.order, c.ID)
	}
	s.interventions = make(map[string][]entities.Intervention, len(d.Interventions))
	for id, items := range d.Interventions {
		s.interventions[id] = append([]entities.Intervention(nil), items...)
	}
	s.resources = make(map[string]entities.FacilityResources, len(d.Resources))
	for f, r := range d.Resources {
		s.resources[f] = r
	}
}

// Snapshot returns a deep copy of the store as a dataset
func (s *CaseStore) Snapshot() *entities.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := entities.NewDataset()
	for _, id := range s.order {
		d.Referrals = append(d.Referrals, s.cases[id].Clone())
	}
	for id, items := range s.interventions {
		d.Interventions[id] = append([]entities.Intervention(nil), items...)
	}
	for f, r := range s.resources {
		d.Resources[f] = r
	}
	return d
}

// Insert adds a new case
func (s *CaseStore) Insert(c *entities.ReferralCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return apperrors.NewConflictError("referral " + c.ID + " already exists")
	}
	s.cases[c.ID] = c.Clone()
	s.order = append(s.order, c.ID)
	return nil
}

// Get returns a copy of the case
func (s *CaseStore) Get(id string) (*entities.ReferralCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("referral " + id + " not found")
	}
	return c.Clone(), nil
}

// Put swaps in a new version of an existing case
func (s *CaseStore) Put(c *entities.ReferralCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cases[c.ID]; !ok {
		return apperrors.NewNotFoundError("referral " + c.ID + " not found")
	}
	s.cases[c.ID] = c.Clone()
	return nil
}

// List returns copies of matching cases, most recent first contact first
func (s *CaseStore) List(filter ReferralFilter) []*entities.ReferralCase {
	s.mu.RLock()
	out := make([]*entities.ReferralCase, 0, len(s.order))
	for _, id := range s.order {
		if c := s.cases[id]; filter.matches(c) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Times[entities.MilestoneFirstContact].After(out[j].Times[entities.MilestoneFirstContact])
	})
	return out
}

// AddInterventions appends interventions for a case
func (s *CaseStore) AddInterventions(id string, items ...entities.Intervention) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interventions[id] = append(s.interventions[id], items...)
}

// Interventions returns the interventions recorded for a case
func (s *CaseStore) Interventions(id string) []entities.Intervention {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.Intervention{}, s.interventions[id]...)
}

// SetResources records the capacity advertised by a facility
func (s *CaseStore) SetResources(facility string, r entities.FacilityResources) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[facility] = r
}

// UpdateResources changes the capacity of a facility under the store lock and
// returns the result. found is false when the facility had no entry yet.
func (s *CaseStore) UpdateResources(facility string, fn func(r *entities.FacilityResources, found bool)) entities.FacilityResources {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, found := s.resources[facility]
	fn(&r, found)
	s.resources[facility] = r
	return r
}

// Resources returns the capacity advertised by a facility
func (s *CaseStore) Resources(facility string) (entities.FacilityResources, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[facility]
	return r, ok
}

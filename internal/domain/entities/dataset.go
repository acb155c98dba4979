package entities

import (
	"time"

	"github.com/goccy/go-json"
)

// QuickInterventions are the one-tap EMT interventions
var QuickInterventions = []string{"Oxygen", "IV Access", "IV Fluids", "Uterotonics", "TXA", "Aspirin"}

// Intervention is a treatment given to the patient
type Intervention struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// NewEMTIntervention records a completed intervention performed by the crew
func NewEMTIntervention(name string, now time.Time) Intervention {
	return Intervention{Name: name, Type: "emt", Timestamp: now, Status: "completed"}
}

// FacilityResources is the receiving capacity advertised by a facility
type FacilityResources struct {
	ICUOpen        int     `json:"icu_open"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// Dataset is the whole persisted referral collection
type Dataset struct {
	Referrals     []*ReferralCase              `json:"referrals"`
	Interventions map[string][]Intervention    `json:"interventions"`
	Resources     map[string]FacilityResources `json:"resources"`
}

// NewDataset returns the empty default dataset
func NewDataset() *Dataset {
	return &Dataset{
		Referrals:     []*ReferralCase{},
		Interventions: map[string][]Intervention{},
		Resources:     map[string]FacilityResources{},
	}
}

// Normalize fills any missing collection so a partially written dataset is usable
func (d *Dataset) Normalize() *Dataset {
	if d.Referrals == nil {
		d.Referrals = []*ReferralCase{}
	}
	if d.Interventions == nil {
		d.Interventions = map[string][]Intervention{}
	}
	if d.Resources == nil {
		d.Resources = map[string]FacilityResources{}
	}
	kept := d.Referrals[:0]
	for _, r := range d.Referrals {
		if r == nil {
			continue
		}
		if r.Times == nil {
			r.Times = Milestones{}
		}
		if r.AuditLog == nil {
			r.AuditLog = []AuditEntry{}
		}
		kept = append(kept, r)
	}
	d.Referrals = kept
	return d
}

// DecodeDataset parses a stored dataset. Empty input yields the default dataset.
func DecodeDataset(raw []byte) (*Dataset, error) {
	if len(raw) == 0 {
		return NewDataset(), nil
	}
	var d Dataset
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d.Normalize(), nil
}

// EncodeDataset serializes the dataset for storage
func EncodeDataset(d *Dataset) ([]byte, error) {
	if d == nil {
		d = NewDataset()
	}
	return json.MarshalIndent(d.Normalize(), "", "  ")
}

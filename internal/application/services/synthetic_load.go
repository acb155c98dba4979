package services

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ahecn/referraldesk/internal/domain/entities"
)

// DemoFacilities are the receiving facilities used for synthetic load
var DemoFacilities = []string{
	"NEIGRIHMS",
	"Civil Hospital Shillong",
	"Nazareth Hospital",
	"Ganesh Das MCH",
	"Sohra Civil Hospital",
	"Shillong Polyclinic & Trauma",
}

var (
	demoReferrers      = []string{"Dr. Rai", "Dr. Khonglah", "ANM Pynsuk", "Dr. Sharma", "Dr. Singh"}
	demoReferringSites = []string{"PHC Mawlai", "CHC Smit", "CHC Pynursla", "District Hospital Shillong", "PHC Nongpoh", "CHC Jowai"}
	demoReferrerRoles  = []string{"Doctor/Physician", "ANM/ASHA/EMT"}
)

var demoDiagnosisByType = map[string]string{
	"Maternal": "Postpartum haemorrhage",
	"Trauma":   "Head injury, possible SDH",
	"Stroke":   "Acute ischemic stroke",
	"Cardiac":  "Suspected STEMI",
	"Sepsis":   "Sepsis, hypotension",
	"Other":    "Acute respiratory failure",
}

// weights follow the order of the value lists they index
var (
	complaintWeights = []float64{0.2, 0.22, 0.18, 0.18, 0.15, 0.07}
	triageWeights    = []float64{0.34, 0.44, 0.22}
	priorityWeights  = []float64{0.25, 0.5, 0.25}
	ambulanceWeights = []float64{0.45, 0.32, 0.15, 0.03, 0.05}
	statusWeights    = []float64{0.25, 0.15, 0.2, 0.2, 0.15, 0.05}
)

// SyntheticLoadConfig describes one generated day of referrals
type SyntheticLoadConfig struct {
	Day        time.Time
	Count      int
	Seed       int64
	Facilities []string
}

// GenerateDayLoad builds a reproducible dataset of referrals spread across one
// UTC day, with milestones consistent with each case's status.
func GenerateDayLoad(cfg SyntheticLoadConfig) *entities.Dataset {
	facilities := cfg.Facilities
	if len(facilities) == 0 {
		facilities = DemoFacilities
	}
	day := cfg.Day.UTC().Truncate(24 * time.Hour)
	rng := rand.New(rand.NewSource(cfg.Seed))

	dataset := entities.NewDataset()
	for _, f := range facilities {
		dataset.Resources[f] = entities.FacilityResources{
			ICUOpen:        rng.Intn(9),
			AcceptanceRate: math.Round((0.65+rng.Float64()*0.27)*100) / 100,
		}
	}

	statuses := []entities.ReferralStatus{
		entities.StatusPreAlert, entities.StatusAccepted, entities.StatusEnRoute,
		entities.StatusArrived, entities.StatusHandover, entities.StatusRejected,
	}
	colors := []entities.TriageColor{entities.TriageRed, entities.TriageYellow, entities.TriageGreen}
	priorities := []entities.Priority{entities.PriorityRoutine, entities.PriorityUrgent, entities.PrioritySTAT}

	for i := 0; i < cfg.Count; i++ {
		complaint := entities.ComplaintCategories[weightedIndex(rng, complaintWeights)]
		status := statuses[weightedIndex(rng, statusWeights)]

		firstContact := day.Add(time.Duration(rng.Intn(23*3600)) * time.Second)
		decision := firstContact.Add(seconds(rng, 60, 25*60))
		dispatch := decision.Add(seconds(rng, 2*60, 12*60))
		travelMin := 8 + rng.Intn(78)
		arrive := dispatch.Add(time.Duration(travelMin) * time.Minute)
		handover := arrive.Add(seconds(rng, 5*60, 35*60))

		c := entities.NewReferralCase(syntheticID(rng), firstContact)
		c.Status = status
		c.Times[entities.MilestoneDecision] = decision
		switch status {
		case entities.StatusAccepted, entities.StatusEnRoute, entities.StatusArrived, entities.StatusHandover:
			c.Times[entities.MilestoneDispatch] = dispatch
		}
		switch status {
		case entities.StatusEnRoute, entities.StatusArrived, entities.StatusHandover:
			c.Times[entities.MilestoneEnRoute] = dispatch.Add(seconds(rng, 0, 3*60))
		}
		switch status {
		case entities.StatusArrived, entities.StatusHandover:
			c.Times[entities.MilestoneArriveDest] = arrive
		}
		if status == entities.StatusHandover {
			c.Times[entities.MilestoneHandover] = handover
		}
		if status == entities.StatusRejected {
			c.RejectReason = entities.RejectReasons[rng.Intn(len(entities.RejectReasons))]
		}

		c.Destination = facilities[rng.Intn(len(facilities))]
		c.Patient = entities.Patient{
			Name: fmt.Sprintf("Pt-%04d", i),
			Age:  1 + rng.Intn(85),
			Sex:  []string{"Male", "Female"}[rng.Intn(2)],
			ID:   fmt.Sprintf("PID-%06d", 100000+rng.Intn(900000)),
		}
		c.Referrer = entities.Referrer{
			Name:     demoReferrers[rng.Intn(len(demoReferrers))],
			Facility: demoReferringSites[rng.Intn(len(demoReferringSites))],
			Role:     demoReferrerRoles[rng.Intn(len(demoReferrerRoles))],
		}
		c.ProvisionalDx = entities.ProvisionalDx{Code: "-", Label: demoDiagnosisByType[complaint], CaseType: complaint}
		c.Triage = entities.Triage{
			Complaint: complaint,
			Color:     colors[weightedIndex(rng, triageWeights)],
			Vitals: entities.Vitals{
				HR:   60 + rng.Intn(91),
				SBP:  80 + rng.Intn(101),
				RR:   12 + rng.Intn(24),
				Temp: math.Round((36.0+rng.Float64()*3.8)*10) / 10,
				SpO2: 86 + rng.Intn(14),
				AVPU: "A",
			},
		}

		eta := 10 + rng.Intn(81)
		if status == entities.StatusEnRoute || status == entities.StatusArrived {
			eta = travelMin
		}
		c.Transport = entities.Transport{
			Priority:  priorities[weightedIndex(rng, priorityWeights)],
			Ambulance: entities.AmbulanceTypes[weightedIndex(rng, ambulanceWeights)],
			ETAMin:    &eta,
		}
		c.AuditLog = append(c.AuditLog, entities.AuditEntry{
			Timestamp: firstContact,
			Action:    string(entities.StatusPreAlert),
			Detail:    "synthetic load",
		})

		dataset.Referrals = append(dataset.Referrals, c)
	}
	return dataset
}

// MergeDatasets adds the referrals and resources of extra to base. Existing
// case ids and facilities in base win.
func MergeDatasets(base, extra *entities.Dataset) (added int) {
	seen := make(map[string]bool, len(base.Referrals))
	for _, c := range base.Referrals {
		seen[c.ID] = true
	}
	for _, c := range extra.Referrals {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		base.Referrals = append(base.Referrals, c)
		added++
	}
	for facility, res := range extra.Resources {
		if _, ok := base.Resources[facility]; !ok {
			base.Resources[facility] = res
		}
	}
	return added
}

func weightedIndex(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}

func seconds(rng *rand.Rand, lo, hi int) time.Duration {
	return time.Duration(lo+rng.Intn(hi-lo+1)) * time.Second
}

// syntheticID uses the same 8 hex digit shape as NewReferralID, drawn from rng
func syntheticID(rng *rand.Rand) string {
	return fmt.Sprintf("%08X", rng.Uint32())
}

package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReferralStatus is the position of a referral in the receiving workflow
type ReferralStatus string

const (
	StatusPreAlert ReferralStatus = "PREALERT"
	StatusAccepted ReferralStatus = "ACCEPTED"
	StatusEnRoute  ReferralStatus = "ENROUTE"
	StatusArrived  ReferralStatus = "ARRIVE_DEST"
	StatusHandover ReferralStatus = "HANDOVER"
	StatusRejected ReferralStatus = "REJECTED"
)

// IsValid reports whether s is a known status
func (s ReferralStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further transitions are accepted
func (s ReferralStatus) IsTerminal() bool {
	return s == StatusHandover || s == StatusRejected
}

// IsActive reports whether the referral belongs in the receiving work queue
func (s ReferralStatus) IsActive() bool {
	switch s {
	case StatusPreAlert, StatusAccepted, StatusEnRoute, StatusArrived:
		return true
	}
	return false
}

// Rank orders statuses for the work queue
func (s ReferralStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return 9
}

var statusRank = map[ReferralStatus]int{
	StatusPreAlert: 0,
	StatusAccepted: 1,
	StatusEnRoute:  2,
	StatusArrived:  3,
	StatusHandover: 4,
	StatusRejected: 5,
}

// Milestone names a workflow timestamp
type Milestone string

const (
	MilestoneFirstContact Milestone = "first_contact"
	MilestoneDecision     Milestone = "decision"
	MilestoneDispatch     Milestone = "dispatch"
	MilestoneEnRoute      Milestone = "enroute"
	MilestoneArriveDest   Milestone = "arrive_dest"
	MilestoneHandover     Milestone = "handover"
)

// Milestones maps milestone names to the time they were reached
type Milestones map[Milestone]time.Time

// Has reports whether the milestone has been recorded
func (m Milestones) Has(name Milestone) bool {
	_, ok := m[name]
	return ok
}

// Get returns the milestone time, or nil
func (m Milestones) Get(name Milestone) *time.Time {
	if t, ok := m[name]; ok {
		return &t
	}
	return nil
}

// TriageColor is the acuity classification, RED being most critical
type TriageColor string

const (
	TriageRed    TriageColor = "RED"
	TriageYellow TriageColor = "YELLOW"
	TriageGreen  TriageColor = "GREEN"
)

// IsValid reports whether c is a known triage color
func (c TriageColor) IsValid() bool {
	return c == TriageRed || c == TriageYellow || c == TriageGreen
}

// Priority is the transport priority
type Priority string

const (
	PriorityRoutine Priority = "Routine"
	PriorityUrgent  Priority = "Urgent"
	PrioritySTAT    Priority = "STAT"
)

// Rank orders priorities for the work queue, STAT first
func (p Priority) Rank() int {
	switch p {
	case PrioritySTAT:
		return 0
	case PriorityRoutine:
		return 2
	default:
		return 1
	}
}

// IsValid reports whether p is a known priority
func (p Priority) IsValid() bool {
	return p == PriorityRoutine || p == PriorityUrgent || p == PrioritySTAT
}

// ComplaintCategories lists the accepted triage complaint categories
var ComplaintCategories = []string{"Maternal", "Trauma", "Stroke", "Cardiac", "Sepsis", "Other"}

// AmbulanceTypes lists the accepted ambulance types
var AmbulanceTypes = []string{"BLS", "ALS", "ALS + Vent", "Neonatal", "Other"}

// RejectReasons is the fixed set of reasons a receiving facility may decline a referral
var RejectReasons = []string{
	"No ICU bed",
	"No specialist",
	"Equipment down",
	"Over capacity",
	"Outside scope",
	"Patient diverted",
}

// IsValidRejectReason reports whether reason is one of RejectReasons
func IsValidRejectReason(reason string) bool {
	for _, r := range RejectReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// AVPU levels
const (
	AVPUAlert        = "A"
	AVPUVerbal       = "V"
	AVPUPain         = "P"
	AVPUUnresponsive = "U"
)

// Vitals is one set of vital signs
type Vitals struct {
	HR   int     `json:"hr" validate:"gte=0,lte=250"`
	SBP  int     `json:"sbp" validate:"gte=0,lte=300"`
	RR   int     `json:"rr" validate:"gte=0,lte=80"`
	Temp float64 `json:"temp" validate:"gte=0,lte=45"`
	SpO2 int     `json:"spo2" validate:"gte=0,lte=100"`
	AVPU string  `json:"avpu" validate:"omitempty,oneof=A V P U"`
}

// VitalsEntry is a timestamped vitals reading
type VitalsEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Vitals
}

// Triage is the clinical snapshot of a referral
type Triage struct {
	Complaint string      `json:"complaint"`
	Color     TriageColor `json:"color"`
	Vitals    Vitals      `json:"vitals"`
}

// Transport describes how the patient is being moved
type Transport struct {
	Priority  Priority `json:"priority"`
	Ambulance string   `json:"ambulance"`
	ETAMin    *int     `json:"eta_min,omitempty"`
}

// Patient identifies the referred patient
type Patient struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	Sex  string `json:"sex"`
	ID   string `json:"id"`
}

// Referrer identifies who referred the patient and from where
type Referrer struct {
	Name     string `json:"name"`
	Facility string `json:"facility"`
	Role     string `json:"role"`
}

// ProvisionalDx is the referring clinician's working diagnosis
type ProvisionalDx struct {
	Code     string `json:"code"`
	Label    string `json:"label"`
	CaseType string `json:"case_type"`
}

// AuditEntry is one append-only audit record
type AuditEntry struct {
	Timestamp time.Time `json:"ts"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}

// ReferralCase is the mutable record of one patient referral
type ReferralCase struct {
	ID            string         `json:"id"`
	Status        ReferralStatus `json:"status"`
	Times         Milestones     `json:"times"`
	Patient       Patient        `json:"patient"`
	Referrer      Referrer       `json:"referrer"`
	ProvisionalDx ProvisionalDx  `json:"provisional_dx"`
	Triage        Triage         `json:"triage"`
	Transport     Transport      `json:"transport"`
	Destination   string         `json:"dest"`
	RejectReason  string         `json:"reject_reason,omitempty"`
	VitalsHistory []VitalsEntry  `json:"vitals_history,omitempty"`
	AuditLog      []AuditEntry   `json:"audit_log"`
}

// NewReferralCase creates a case in PREALERT with its first-contact milestone
func NewReferralCase(id string, now time.Time) *ReferralCase {
	if id == "" {
		id = NewReferralID()
	}
	return &ReferralCase{
		ID:       id,
		Status:   StatusPreAlert,
		Times:    Milestones{MilestoneFirstContact: now},
		AuditLog: []AuditEntry{},
	}
}

// NewReferralID returns a short upper-case identifier derived from a UUID
func NewReferralID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (r *ReferralCase) Clone() *ReferralCase {
	if r == nil {
		return nil
	}
	c := *r
	c.Times = make(Milestones, len(r.Times))
	for k, v := range r.Times {
		c.Times[k] = v
	}
	if r.Transport.ETAMin != nil {
		eta := *r.Transport.ETAMin
		c.Transport.ETAMin = &eta
	}
	if r.VitalsHistory != nil {
		c.VitalsHistory = make([]VitalsEntry, len(r.VitalsHistory))
		copy(c.VitalsHistory, r.VitalsHistory)
	}
	c.AuditLog = make([]AuditEntry, len(r.AuditLog))
	copy(c.AuditLog, r.AuditLog)
	return &c
}

// LastAudit returns the most recent audit entry, if any
func (r *ReferralCase) LastAudit() (AuditEntry, bool) {
	if len(r.AuditLog) == 0 {
		return AuditEntry{}, false
	}
	return r.AuditLog[len(r.AuditLog)-1], true
}

// ETA returns the estimated minutes to arrival, or -1 when unknown
func (r *ReferralCase) ETA() int {
	if r.Transport.ETAMin == nil {
		return -1
	}
	return *r.Transport.ETAMin
}

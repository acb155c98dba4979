package entities

import (
	"time"

	"github.com/google/uuid"
)

// Urgency ranks how quickly an alert needs attention
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// AlertRule identifies which notification rule raised an alert
type AlertRule string

const (
	RuleDeterioration   AlertRule = "deterioration"
	RuleRejected        AlertRule = "rejected"
	RuleRedAccepted     AlertRule = "red_accepted"
	RuleImminentArrival AlertRule = "imminent_arrival"
	RuleSystem          AlertRule = "system"
)

// ParseUrgency maps free text to an urgency, defaulting to medium
func ParseUrgency(s string) Urgency {
	switch Urgency(s) {
	case UrgencyLow, UrgencyHigh:
		return Urgency(s)
	}
	return UrgencyMedium
}

// Alert is a notification shown to receiving staff. Only Read changes after creation.
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CaseID    string    `json:"case_id"`
	Urgency   Urgency   `json:"urgency"`
	Read      bool      `json:"read"`
	Rule      AlertRule `json:"rule"`
	EventID   int64     `json:"event_id"`
}

// NewAlert creates an unread alert
func NewAlert(rule AlertRule, caseID string, eventID int64, urgency Urgency, title, body string, now time.Time) *Alert {
	return &Alert{
		ID:        uuid.New().String(),
		Timestamp: now,
		Title:     title,
		Body:      body,
		CaseID:    caseID,
		Urgency:   urgency,
		Rule:      rule,
		EventID:   eventID,
	}
}

package entities

import (
	"math"
	"time"
)

// EventType represents the type of a case event
type EventType string

const (
	EventTypeVitalsUpdate      EventType = "vitals.update"
	EventTypeInterventionAdded EventType = "intervention.added"
	EventTypeStatusUpdate      EventType = "status.update"
	EventTypeSystemAlert       EventType = "system.alert"
)

// IsValid reports whether t is one of the known event types
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeVitalsUpdate, EventTypeInterventionAdded, EventTypeStatusUpdate, EventTypeSystemAlert:
		return true
	}
	return false
}

// Event is one entry of the append-only case event log.
// ID is assigned by the log and doubles as the polling cursor.
type Event struct {
	ID        int64                  `json:"id"`
	Timestamp time.Time              `json:"ts"`
	Type      EventType              `json:"type"`
	CaseID    string                 `json:"case_id"`
	Actor     string                 `json:"actor"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent builds an unsaved event; the log assigns ID on append
func NewEvent(eventType EventType, caseID, actor string, payload map[string]interface{}, now time.Time) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		Timestamp: now,
		Type:      eventType,
		CaseID:    caseID,
		Actor:     actor,
		Payload:   payload,
	}
}

// EpochSeconds returns the timestamp as fractional seconds since the Unix epoch
func (e *Event) EpochSeconds() float64 {
	return float64(e.Timestamp.UnixNano()) / float64(time.Second)
}

// TimeFromEpochSeconds converts fractional epoch seconds back to a UTC time
func TimeFromEpochSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// EventQuery is a pollSince request
type EventQuery struct {
	AfterID int64
	CaseID  string
	Limit   int
}

// Status payload keys shared by producers and the alert rules
const (
	PayloadStatus   = "status"
	PayloadPrevious = "previous"
	PayloadReason   = "reason"
	PayloadTriage   = "triage"
	PayloadETAMin   = "eta_min"
	PayloadDest     = "dest"
	PayloadName     = "name"
)

package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ahecn/referraldesk/internal/domain/entities"
)

const (
	criticalSBP  = 90
	criticalSpO2 = 90
)

// AlertRuleConfig toggles the optional notification rules
type AlertRuleConfig struct {
	OnReject            bool
	OnRedAccept         bool
	OnImminentArrival   bool
	ETAThresholdMinutes int
}

// DefaultAlertRuleConfig enables every rule with a 15 minute arrival threshold
func DefaultAlertRuleConfig() AlertRuleConfig {
	return AlertRuleConfig{
		OnReject:            true,
		OnRedAccept:         true,
		OnImminentArrival:   true,
		ETAThresholdMinutes: 15,
	}
}

// AlertRules derives alerts from events. It never touches case state; the only
// memory it keeps is which cases are already below the arrival threshold.
type AlertRules struct {
	cfg      AlertRuleConfig
	mu       sync.Mutex
	imminent map[string]bool
}

// NewAlertRules creates the rule set
func NewAlertRules(cfg AlertRuleConfig) *AlertRules {
	return &AlertRules{cfg: cfg, imminent: make(map[string]bool)}
}

// Evaluate returns the alerts raised by one event
func (r *AlertRules) Evaluate(e *entities.Event, now time.Time) []*entities.Alert {
	switch e.Type {
	case entities.EventTypeVitalsUpdate:
		if a := r.deterioration(e, now); a != nil {
			return []*entities.Alert{a}
		}
	case entities.EventTypeStatusUpdate:
		return r.statusAlerts(e, now)
	case entities.EventTypeSystemAlert:
		return []*entities.Alert{systemAlert(e, now)}
	}
	return nil
}

func (r *AlertRules) deterioration(e *entities.Event, now time.Time) *entities.Alert {
	var findings []string
	if sbp, ok := toFloat64(e.Payload["sbp"]); ok && sbp < criticalSBP {
		findings = append(findings, fmt.Sprintf("SBP %.0f mmHg", sbp))
	}
	if spo2, ok := toFloat64(e.Payload["spo2"]); ok && spo2 < criticalSpO2 {
		findings = append(findings, fmt.Sprintf("SpO2 %.0f%%", spo2))
	}
	if avpu, ok := e.Payload["avpu"].(string); ok {
		avpu = strings.ToUpper(strings.TrimSpace(avpu))
		if avpu != "" && avpu != entities.AVPUAlert {
			findings = append(findings, "AVPU "+avpu)
		}
	}
	if len(findings) == 0 {
		return nil
	}
	return entities.NewAlert(entities.RuleDeterioration, e.CaseID, e.ID, entities.UrgencyHigh,
		"Patient deteriorating: "+e.CaseID,
		strings.Join(findings, ", "),
		now)
}

func (r *AlertRules) statusAlerts(e *entities.Event, now time.Time) []*entities.Alert {
	status := entities.ReferralStatus(payloadString(e.Payload, entities.PayloadStatus))
	previous := entities.ReferralStatus(payloadString(e.Payload, entities.PayloadPrevious))
	var alerts []*entities.Alert

	if r.cfg.OnReject && status == entities.StatusRejected && previous != entities.StatusRejected {
		reason := payloadString(e.Payload, entities.PayloadReason)
		if reason == "" {
			reason = "no reason given"
		}
		alerts = append(alerts, entities.NewAlert(entities.RuleRejected, e.CaseID, e.ID, entities.UrgencyMedium,
			"Referral rejected: "+e.CaseID, reason, now))
	}

	if r.cfg.OnRedAccept && status == entities.StatusAccepted && previous != entities.StatusAccepted &&
		entities.TriageColor(payloadString(e.Payload, entities.PayloadTriage)) == entities.TriageRed {
		alerts = append(alerts, entities.NewAlert(entities.RuleRedAccepted, e.CaseID, e.ID, entities.UrgencyHigh,
			"RED case accepted: "+e.CaseID, "Prepare resuscitation bay for incoming critical patient", now))
	}

	if a := r.imminentArrival(e, status, now); a != nil {
		alerts = append(alerts, a)
	}
	return alerts
}

func (r *AlertRules) imminentArrival(e *entities.Event, status entities.ReferralStatus, now time.Time) *entities.Alert {
	if !r.cfg.OnImminentArrival {
		return nil
	}
	eta, hasETA := toFloat64(e.Payload[entities.PayloadETAMin])
	below := status == entities.StatusEnRoute && hasETA && eta < float64(r.cfg.ETAThresholdMinutes)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !below {
		// re-arm once the case leaves the window
		if status != entities.StatusEnRoute || hasETA {
			delete(r.imminent, e.CaseID)
		}
		return nil
	}
	if r.imminent[e.CaseID] {
		return nil
	}
	r.imminent[e.CaseID] = true
	return entities.NewAlert(entities.RuleImminentArrival, e.CaseID, e.ID, entities.UrgencyMedium,
		"Arriving soon: "+e.CaseID,
		fmt.Sprintf("ETA %.0f min", eta),
		now)
}

func systemAlert(e *entities.Event, now time.Time) *entities.Alert {
	title := payloadString(e.Payload, "title")
	if title == "" {
		title = "System alert: " + e.CaseID
	}
	return entities.NewAlert(entities.RuleSystem, e.CaseID, e.ID,
		entities.ParseUrgency(payloadString(e.Payload, "urgency")),
		title, payloadString(e.Payload, "body"), now)
}

func payloadString(payload map[string]interface{}, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

// toFloat64 accepts the numeric shapes a payload can carry after JSON decoding
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

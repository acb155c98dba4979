package entities

import (
	"fmt"
	"time"

	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

// Transition names the workflow actions a case accepts
type Transition string

const (
	TransitionAccept   Transition = "accept"
	TransitionEnRoute  Transition = "markEnRoute"
	TransitionArrive   Transition = "markArrived"
	TransitionHandover Transition = "markHandover"
	TransitionReject   Transition = "reject"
)

// legalSources lists the statuses each transition may start from.
// Reject is handled separately: any non-terminal status.
var legalSources = map[Transition][]ReferralStatus{
	TransitionAccept:   {StatusPreAlert, StatusAccepted},
	TransitionEnRoute:  {StatusPreAlert, StatusAccepted, StatusEnRoute},
	TransitionArrive:   {StatusEnRoute, StatusArrived},
	TransitionHandover: {StatusArrived},
}

// CanApply reports whether t is legal from the case's current status
func (r *ReferralCase) CanApply(t Transition) bool {
	if t == TransitionReject {
		return !r.Status.IsTerminal()
	}
	for _, s := range legalSources[t] {
		if s == r.Status {
			return true
		}
	}
	return false
}

func (r *ReferralCase) guard(t Transition) error {
	if !r.CanApply(t) {
		return apperrors.NewInvalidTransitionError(string(r.Status), string(t))
	}
	return nil
}

// Accept moves the case to ACCEPTED. Re-accepting an accepted case only adds an audit entry.
func (r *ReferralCase) Accept(now time.Time) error {
	if err := r.guard(TransitionAccept); err != nil {
		return err
	}
	r.Status = StatusAccepted
	r.setOnce(MilestoneDecision, now)
	r.audit(now, string(StatusAccepted), "")
	return nil
}

// MarkEnRoute moves the case to ENROUTE, stamping dispatch once and refreshing enroute
func (r *ReferralCase) MarkEnRoute(now time.Time) error {
	if err := r.guard(TransitionEnRoute); err != nil {
		return err
	}
	r.Status = StatusEnRoute
	r.setOnce(MilestoneDispatch, now)
	r.refresh(MilestoneEnRoute, now)
	r.audit(now, string(StatusEnRoute), "")
	return nil
}

// MarkArrived moves the case to ARRIVE_DEST
func (r *ReferralCase) MarkArrived(now time.Time) error {
	if err := r.guard(TransitionArrive); err != nil {
		return err
	}
	r.Status = StatusArrived
	r.refresh(MilestoneArriveDest, now)
	r.audit(now, string(StatusArrived), "")
	return nil
}

// MarkHandover closes the case
func (r *ReferralCase) MarkHandover(now time.Time) error {
	if err := r.guard(TransitionHandover); err != nil {
		return err
	}
	r.Status = StatusHandover
	r.refresh(MilestoneHandover, now)
	r.audit(now, string(StatusHandover), "")
	return nil
}

// Reject declines the case with one of RejectReasons
func (r *ReferralCase) Reject(reason string, now time.Time) error {
	if !IsValidRejectReason(reason) {
		return apperrors.NewValidationError(fmt.Sprintf("unknown reject reason %q", reason))
	}
	if err := r.guard(TransitionReject); err != nil {
		return err
	}
	r.Status = StatusRejected
	r.RejectReason = reason
	r.setOnce(MilestoneDecision, now)
	r.audit(now, string(StatusRejected), reason)
	return nil
}

// Apply runs the named transition. reason is only used by reject.
func (r *ReferralCase) Apply(t Transition, reason string, now time.Time) error {
	switch t {
	case TransitionAccept:
		return r.Accept(now)
	case TransitionEnRoute:
		return r.MarkEnRoute(now)
	case TransitionArrive:
		return r.MarkArrived(now)
	case TransitionHandover:
		return r.MarkHandover(now)
	case TransitionReject:
		return r.Reject(reason, now)
	}
	return apperrors.NewValidationError(fmt.Sprintf("unknown transition %q", t))
}

// AddAudit records a manual action that does not change status
func (r *ReferralCase) AddAudit(action, detail string, now time.Time) error {
	if action == "" {
		return apperrors.NewValidationError("audit action is required")
	}
	r.audit(now, action, detail)
	return nil
}

// RecordVitals replaces the latest triage vitals and appends them to the history
func (r *ReferralCase) RecordVitals(v Vitals, now time.Time) error {
	if r.Status.IsTerminal() {
		return apperrors.NewInvalidTransitionError(string(r.Status), "recordVitals")
	}
	r.Triage.Vitals = v
	r.VitalsHistory = append(r.VitalsHistory, VitalsEntry{Timestamp: now, Vitals: v})
	return nil
}

// UpdateETA sets the transport ETA in minutes
func (r *ReferralCase) UpdateETA(minutes int, now time.Time) error {
	if minutes < 0 {
		return apperrors.NewValidationError("eta_min must not be negative")
	}
	if r.Status.IsTerminal() {
		return apperrors.NewInvalidTransitionError(string(r.Status), "updateETA")
	}
	r.Transport.ETAMin = &minutes
	r.audit(now, "ETA_UPDATED", fmt.Sprintf("%d min", minutes))
	return nil
}

func (r *ReferralCase) audit(now time.Time, action, detail string) {
	r.AuditLog = append(r.AuditLog, AuditEntry{Timestamp: now, Action: action, Detail: detail})
}

func (r *ReferralCase) setOnce(name Milestone, now time.Time) {
	if r.Times == nil {
		r.Times = Milestones{}
	}
	if !r.Times.Has(name) {
		r.Times[name] = now
	}
}

// refresh moves a milestone forward; an earlier clock reading keeps the recorded value
func (r *ReferralCase) refresh(name Milestone, now time.Time) {
	if r.Times == nil {
		r.Times = Milestones{}
	}
	if prev, ok := r.Times[name]; ok && now.Before(prev) {
		return
	}
	r.Times[name] = now
}

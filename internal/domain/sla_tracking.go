package domain

import "time"

// BreachType identifies one of the two commitments tracked per ticket.
type BreachType string

const (
	BreachTypeResponse   BreachType = "RESPONSE"
	BreachTypeResolution BreachType = "RESOLUTION"
)

// BreachTypes lists the commitments in evaluation order.
var BreachTypes = []BreachType{BreachTypeResponse, BreachTypeResolution}

// CommitmentState is the state of a single commitment.
type CommitmentState string

const (
	CommitmentPending  CommitmentState = "PENDING"
	CommitmentMet      CommitmentState = "MET"
	CommitmentBreached CommitmentState = "BREACHED"
)

// SLATracking is the persisted SLA state of one ticket.
type SLATracking struct {
	ID                   string
	TicketID             string
	PolicyID             string
	RuleID               string
	ResponseDueAt        time.Time
	ResolutionDueAt      time.Time
	ResponseMet          bool
	ResponseMetAt        *time.Time
	ResponseBreached     bool
	ResponseBreachedAt   *time.Time
	ResolutionMet        bool
	ResolutionMetAt      *time.Time
	ResolutionBreached   bool
	ResolutionBreachedAt *time.Time
	EscalationLevel      int
	LastEscalatedAt      *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DueAt returns the due instant of a commitment.
func (t *SLATracking) DueAt(breachType BreachType) time.Time {
	if breachType == BreachTypeResponse {
		return t.ResponseDueAt
	}
	return t.ResolutionDueAt
}

// State returns the current state of a commitment.
func (t *SLATracking) State(breachType BreachType) CommitmentState {
	met, breached := t.ResponseMet, t.ResponseBreached
	if breachType == BreachTypeResolution {
		met, breached = t.ResolutionMet, t.ResolutionBreached
	}
	switch {
	case breached:
		return CommitmentBreached
	case met:
		return CommitmentMet
	default:
		return CommitmentPending
	}
}

// MarkMet records the commitment as met at the given instant.
func (t *SLATracking) MarkMet(breachType BreachType, at time.Time) {
	if breachType == BreachTypeResponse {
		t.ResponseMet, t.ResponseMetAt = true, &at
		return
	}
	t.ResolutionMet, t.ResolutionMetAt = true, &at
}

// MarkBreached records the commitment as breached at the given instant.
func (t *SLATracking) MarkBreached(breachType BreachType, at time.Time) {
	if breachType == BreachTypeResponse {
		t.ResponseBreached, t.ResponseBreachedAt = true, &at
		return
	}
	t.ResolutionBreached, t.ResolutionBreachedAt = true, &at
}

// BreachLog is an append-only record of one breach transition.
type BreachLog struct {
	ID             string
	SLATrackingID  string
	TicketID       string
	BreachType     BreachType
	BreachedAt     time.Time
	OverdueMinutes int64
	CreatedAt      time.Time
}

// CommitmentStatus is the derived, never persisted, view of one commitment.
type CommitmentStatus struct {
	BreachType       BreachType
	State            CommitmentState
	DueAt            time.Time
	RemainingMinutes int64
	OverdueMinutes   int64
	// SettledAt is the qualifying event that stopped the clock, if it happened.
	SettledAt *time.Time
}

// LiveStatus is the derived status of a tracking row at a point in time.
type LiveStatus struct {
	Response   CommitmentStatus
	Resolution CommitmentStatus
	ComputedAt time.Time
}

// LiveStatus computes time remaining or overdue for both commitments in calendar minutes.
// ticket may be nil; when given, a commitment whose qualifying event already happened is
// measured up to that event instead of now.
func (t *SLATracking) LiveStatus(now time.Time, ticket *TicketSnapshot) LiveStatus {
	return LiveStatus{
		Response:   t.commitmentStatus(BreachTypeResponse, now, ticket),
		Resolution: t.commitmentStatus(BreachTypeResolution, now, ticket),
		ComputedAt: now,
	}
}

func (t *SLATracking) commitmentStatus(breachType BreachType, now time.Time, ticket *TicketSnapshot) CommitmentStatus {
	status := CommitmentStatus{
		BreachType: breachType,
		State:      t.State(breachType),
		DueAt:      t.DueAt(breachType),
	}
	if status.State == CommitmentMet {
		return status
	}
	end := now
	if ticket != nil {
		if at := ticket.QualifyingEventAt(breachType); at != nil && !at.After(now) {
			settled := *at
			status.SettledAt = &settled
			end = settled
		}
	}
	diff := status.DueAt.Sub(end)
	switch {
	case diff < 0:
		status.OverdueMinutes = int64(-diff / time.Minute)
	case status.SettledAt == nil:
		status.RemainingMinutes = int64(diff / time.Minute)
	}
	return status
}

// TrackingCandidate pairs a tracking row with the ticket data needed to evaluate it.
type TrackingCandidate struct {
	Tracking             SLATracking
	Ticket               TicketSnapshot
	EscalateAfterMinutes *int
}

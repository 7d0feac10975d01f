package domain

import "time"

// SLAPolicy groups the SLA rules of one agency.
type SLAPolicy struct {
	ID                   string
	AgencyID             string
	Name                 string
	Description          string
	IsActive             bool
	RespectBusinessHours bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SLARule carries the time targets for tickets matching its priority and category scope.
// A nil PriorityID or CategoryID matches any value.
type SLARule struct {
	ID                    string
	PolicyID              string
	PriorityID            *string
	CategoryID            *string
	ResponseTimeMinutes   int
	ResolutionTimeMinutes int
	EscalateAfterMinutes  *int
	CreatedAt             time.Time
}

// IsCatchAll reports whether the rule has neither a priority nor a category constraint.
func (r *SLARule) IsCatchAll() bool {
	return r.PriorityID == nil && r.CategoryID == nil
}

// TargetMinutes returns the configured minutes for a commitment.
func (r *SLARule) TargetMinutes(breachType BreachType) int {
	if breachType == BreachTypeResponse {
		return r.ResponseTimeMinutes
	}
	return r.ResolutionTimeMinutes
}

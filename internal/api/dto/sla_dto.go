package dto

import (
	"time"

	"github.com/govdesk/sla-service/internal/domain"
)

// AttachResponse describes the tracking row created for a ticket. Tracked is false when
// the agency has no applicable policy.
type AttachResponse struct {
	Tracked  bool              `json:"tracked"`
	Created  bool              `json:"created"`
	Tracking *TrackingResponse `json:"tracking,omitempty"`
}

// TrackingResponse is the persisted SLA state of a ticket.
type TrackingResponse struct {
	ID                   string     `json:"id"`
	TicketID             string     `json:"ticket_id"`
	PolicyID             string     `json:"policy_id"`
	RuleID               string     `json:"rule_id"`
	ResponseDueAt        time.Time  `json:"response_due_at"`
	ResolutionDueAt      time.Time  `json:"resolution_due_at"`
	ResponseMet          bool       `json:"response_met"`
	ResponseMetAt        *time.Time `json:"response_met_at"`
	ResponseBreached     bool       `json:"response_breached"`
	ResponseBreachedAt   *time.Time `json:"response_breached_at"`
	ResolutionMet        bool       `json:"resolution_met"`
	ResolutionMetAt      *time.Time `json:"resolution_met_at"`
	ResolutionBreached   bool       `json:"resolution_breached"`
	ResolutionBreachedAt *time.Time `json:"resolution_breached_at"`
	EscalationLevel      int        `json:"escalation_level"`
	LastEscalatedAt      *time.Time `json:"last_escalated_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// CommitmentResponse is the live view of one commitment.
type CommitmentResponse struct {
	State            domain.CommitmentState `json:"state"`
	DueAt            time.Time              `json:"due_at"`
	RemainingMinutes int64                  `json:"remaining_minutes"`
	OverdueMinutes   int64                  `json:"overdue_minutes"`
	SettledAt        *time.Time             `json:"settled_at,omitempty"`
}

// StatusResponse combines tracking and live status.
type StatusResponse struct {
	Tracking      TrackingResponse   `json:"tracking"`
	Response      CommitmentResponse `json:"response"`
	Resolution    CommitmentResponse `json:"resolution"`
	BusinessHours bool               `json:"business_hours"`
	ComputedAt    time.Time          `json:"computed_at"`
}

// BreachResponse is one breach log entry.
type BreachResponse struct {
	ID             string            `json:"id"`
	TrackingID     string            `json:"sla_tracking_id"`
	BreachType     domain.BreachType `json:"breach_type"`
	BreachedAt     time.Time         `json:"breached_at"`
	OverdueMinutes int64             `json:"overdue_minutes"`
	CreatedAt      time.Time         `json:"created_at"`
}

// EscalationResponse is one escalation history entry.
type EscalationResponse struct {
	ID            string    `json:"id"`
	TrackingID    string    `json:"sla_tracking_id"`
	LevelID       *string   `json:"level_id"`
	PreviousLevel int       `json:"previous_level"`
	NewLevel      int       `json:"new_level"`
	Reason        string    `json:"reason"`
	TriggeredBy   string    `json:"triggered_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// DeadlineRequest asks for a due instant without attaching anything.
type DeadlineRequest struct {
	AgencyID      string    `json:"agency_id"`
	Start         time.Time `json:"start"`
	Minutes       int       `json:"minutes"`
	BusinessHours bool      `json:"business_hours"`
}

// DeadlineResponse payload.
type DeadlineResponse struct {
	AgencyID      string    `json:"agency_id"`
	Start         time.Time `json:"start"`
	Minutes       int       `json:"minutes"`
	BusinessHours bool      `json:"business_hours"`
	DueAt         time.Time `json:"due_at"`
}

// ScanResponse summarizes a detector pass.
type ScanResponse struct {
	Evaluated  int   `json:"evaluated"`
	Met        int   `json:"met"`
	Breached   int   `json:"breached"`
	Escalated  int   `json:"escalated"`
	FollowUps  int   `json:"follow_ups"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}

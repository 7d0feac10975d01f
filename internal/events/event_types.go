package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/govdesk/sla-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSLAAttached     EventType = "sla_attached"
	EventSLAMet          EventType = "sla_met"
	EventSLABreached     EventType = "sla_breached"
	EventTicketEscalated EventType = "ticket_escalated"
)

// AllEventTypes lists every event the service emits.
var AllEventTypes = []EventType{EventSLAAttached, EventSLAMet, EventSLABreached, EventTicketEscalated}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type string  `json:"type"`
	ID   *string `json:"id,omitempty"`
}

// SystemActor marks events raised by the service itself.
var SystemActor = Actor{Type: domain.TriggeredBySystem}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent builds a system event with a fresh id.
func NewEvent(eventType EventType, ticketID string, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     SystemActor,
		Timestamp: at,
		Payload:   payload,
	}
}

// SLAAttachedPayload payload.
type SLAAttachedPayload struct {
	TrackingID           string    `json:"tracking_id"`
	PolicyID             string    `json:"policy_id"`
	RuleID               string    `json:"rule_id"`
	RespectBusinessHours bool      `json:"respect_business_hours"`
	ResponseDueAt        time.Time `json:"response_due_at"`
	ResolutionDueAt      time.Time `json:"resolution_due_at"`
}

// SLAMetPayload payload.
type SLAMetPayload struct {
	TrackingID string            `json:"tracking_id"`
	BreachType domain.BreachType `json:"breach_type"`
	DueAt      time.Time         `json:"due_at"`
	MetAt      time.Time         `json:"met_at"`
}

// SLABreachedPayload payload.
type SLABreachedPayload struct {
	TrackingID     string            `json:"tracking_id"`
	BreachLogID    string            `json:"breach_log_id"`
	BreachType     domain.BreachType `json:"breach_type"`
	DueAt          time.Time         `json:"due_at"`
	BreachedAt     time.Time         `json:"breached_at"`
	OverdueMinutes int64             `json:"overdue_minutes"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	TrackingID        string  `json:"tracking_id"`
	EscalationEventID string  `json:"escalation_event_id"`
	PreviousLevel     int     `json:"previous_level"`
	NewLevel          int     `json:"new_level"`
	LevelID           *string `json:"level_id,omitempty"`
	RoleName          string  `json:"role_name"`
	DepartmentID      *string `json:"department_id,omitempty"`
	NotifyEmail       bool    `json:"notify_email"`
	NotifySMS         bool    `json:"notify_sms"`
	NotifyPush        bool    `json:"notify_push"`
	Reason            string  `json:"reason"`
	TriggeredBy       string  `json:"triggered_by"`
}

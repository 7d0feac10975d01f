package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen        TicketStatus = "OPEN"
	TicketStatusInProgress  TicketStatus = "IN_PROGRESS"
	TicketStatusPendingUser TicketStatus = "PENDING_USER"
	TicketStatusResolved    TicketStatus = "RESOLVED"
	TicketStatusClosed      TicketStatus = "CLOSED"
	TicketStatusCancelled   TicketStatus = "CANCELLED"
)

// IsClosed reports whether the status is a closed terminal state.
func (s TicketStatus) IsClosed() bool {
	return s == TicketStatusClosed || s == TicketStatusCancelled
}

// TicketSnapshot is the read-only view of a ticket owned by the ticket service.
type TicketSnapshot struct {
	ID              string
	AgencyID        string
	PriorityID      *string
	CategoryID      *string
	Status          TicketStatus
	CreatedAt       time.Time
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
	IsEscalated     bool
	EscalationLevel int
}

// IsClosed reports whether the ticket reached a closed terminal state.
func (t *TicketSnapshot) IsClosed() bool {
	return t.Status.IsClosed()
}

// QualifyingEventAt returns the instant that satisfies the given commitment, if any.
func (t *TicketSnapshot) QualifyingEventAt(breachType BreachType) *time.Time {
	switch breachType {
	case BreachTypeResponse:
		return t.FirstResponseAt
	case BreachTypeResolution:
		return t.ResolvedAt
	default:
		return nil
	}
}

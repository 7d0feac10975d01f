package domain

import "time"

// TriggeredBySystem marks escalations raised by the breach detector.
const TriggeredBySystem = "SYSTEM"

// EscalationMatrix defines the escalation ladder of an agency, optionally per priority.
type EscalationMatrix struct {
	ID                       string
	AgencyID                 string
	PriorityID               *string
	Name                     string
	AutoEscalate             bool
	ResponseCeilingMinutes   *int
	ResolutionCeilingMinutes *int
	IsActive                 bool
	CreatedAt                time.Time
}

// EscalationLevel is one rung of an escalation matrix.
type EscalationLevel struct {
	ID           string
	MatrixID     string
	LevelNumber  int
	RoleName     string
	DepartmentID *string
	NotifyEmail  bool
	NotifySMS    bool
	NotifyPush   bool
}

// EscalationEvent is an append-only record of a level change on a ticket.
type EscalationEvent struct {
	ID            string
	TicketID      string
	SLATrackingID string
	LevelID       *string
	PreviousLevel int
	NewLevel      int
	Reason        string
	TriggeredBy   string
	CreatedAt     time.Time
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/events"
	"github.com/govdesk/sla-service/internal/observability"
	"github.com/govdesk/sla-service/internal/repository"
)

// ErrEscalationConflict is returned when the tracking level moved while escalating.
var ErrEscalationConflict = errors.New("escalation level changed concurrently")

// EscalationRequest identifies the ticket to escalate and why.
type EscalationRequest struct {
	TicketID    string
	TrackingID  string
	BreachType  domain.BreachType
	Reason      string
	TriggeredBy string
}

// EscalationResult describes an escalation that was recorded.
type EscalationResult struct {
	Event domain.EscalationEvent
	Level domain.EscalationLevel
}

// EscalationEngine moves tickets one level up their agency's escalation matrix.
type EscalationEngine struct {
	store      repository.Store
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// EscalationDependencies bundles collaborators for the engine.
type EscalationDependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Clock      func() time.Time
}

// NewEscalationEngine constructs the engine.
func NewEscalationEngine(deps EscalationDependencies) *EscalationEngine {
	return &EscalationEngine{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		metrics:    deps.Metrics,
		now:        clockOrDefault(deps.Clock),
	}
}

// Escalate runs one escalation in its own transaction and publishes the outcome. A nil
// result with a nil error means the matrix is missing or exhausted.
func (e *EscalationEngine) Escalate(ctx context.Context, req EscalationRequest) (*EscalationResult, error) {
	at := e.now()
	var result *EscalationResult
	err := e.store.WithinTx(ctx, func(repos repository.Repositories) error {
		var err error
		result, err = e.EscalateWithin(ctx, repos, req, at)
		return err
	})
	if err != nil {
		e.metrics.RecordEscalation("failed")
		return nil, err
	}
	e.Announce(ctx, req, result)
	return result, nil
}

// EscalateWithin performs the escalation writes on repositories bound to the caller's
// transaction. Nothing is published; call Announce after the transaction commits.
func (e *EscalationEngine) EscalateWithin(ctx context.Context, repos repository.Repositories, req EscalationRequest, at time.Time) (*EscalationResult, error) {
	tracking, err := repos.Tracking.GetByID(ctx, req.TrackingID)
	if err != nil {
		return nil, fmt.Errorf("load tracking %s: %w", req.TrackingID, err)
	}
	ticket, err := repos.Tickets.GetSnapshot(ctx, req.TicketID)
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", req.TicketID, err)
	}

	previous := tracking.EscalationLevel
	if ticket.EscalationLevel > previous {
		previous = ticket.EscalationLevel
	}
	next := previous + 1

	matrix, err := repos.Escalations.FindMatrix(ctx, ticket.AgencyID, ticket.PriorityID)
	if errors.Is(err, repository.ErrNotFound) {
		e.logger.Info("no auto-escalation matrix for agency",
			zap.String("ticket_id", ticket.ID),
			zap.String("agency_id", ticket.AgencyID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find escalation matrix: %w", err)
	}

	level, err := repos.Escalations.GetLevel(ctx, matrix.ID, next)
	if errors.Is(err, repository.ErrNotFound) {
		e.logger.Info("escalation matrix exhausted",
			zap.String("ticket_id", ticket.ID),
			zap.String("matrix_id", matrix.ID),
			zap.Int("current_level", previous))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load escalation level %d: %w", next, err)
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = domain.TriggeredBySystem
	}
	event := domain.EscalationEvent{
		TicketID:      ticket.ID,
		SLATrackingID: tracking.ID,
		LevelID:       &level.ID,
		PreviousLevel: previous,
		NewLevel:      next,
		Reason:        escalationReason(req),
		TriggeredBy:   triggeredBy,
	}
	if err := repos.Escalations.CreateEvent(ctx, &event); err != nil {
		return nil, fmt.Errorf("record escalation event: %w", err)
	}

	advanced, err := repos.Tracking.AdvanceEscalation(ctx, tracking.ID, tracking.EscalationLevel, next, at)
	if err != nil {
		return nil, fmt.Errorf("advance tracking level: %w", err)
	}
	if !advanced {
		return nil, ErrEscalationConflict
	}
	if err := repos.Tickets.MarkEscalated(ctx, ticket.ID, next); err != nil {
		return nil, fmt.Errorf("mark ticket escalated: %w", err)
	}

	return &EscalationResult{Event: event, Level: *level}, nil
}

// Announce records metrics and publishes the escalation event after commit.
func (e *EscalationEngine) Announce(ctx context.Context, req EscalationRequest, result *EscalationResult) {
	if result == nil {
		e.metrics.RecordEscalation("exhausted")
		return
	}
	e.metrics.RecordEscalation("escalated")
	e.logger.Info("ticket escalated",
		zap.String("ticket_id", result.Event.TicketID),
		zap.Int("previous_level", result.Event.PreviousLevel),
		zap.Int("new_level", result.Event.NewLevel),
		zap.String("role", result.Level.RoleName))

	if e.dispatcher == nil {
		return
	}
	payload := events.TicketEscalatedPayload{
		TrackingID:        result.Event.SLATrackingID,
		EscalationEventID: result.Event.ID,
		PreviousLevel:     result.Event.PreviousLevel,
		NewLevel:          result.Event.NewLevel,
		LevelID:           result.Event.LevelID,
		RoleName:          result.Level.RoleName,
		DepartmentID:      result.Level.DepartmentID,
		NotifyEmail:       result.Level.NotifyEmail,
		NotifySMS:         result.Level.NotifySMS,
		NotifyPush:        result.Level.NotifyPush,
		Reason:            result.Event.Reason,
		TriggeredBy:       result.Event.TriggeredBy,
	}
	event := events.NewEvent(events.EventTicketEscalated, req.TicketID, result.Event.CreatedAt, payload)
	if err := e.dispatcher.Publish(ctx, event); err != nil {
		e.logger.Warn("publish escalation event failed", zap.String("ticket_id", req.TicketID), zap.Error(err))
	}
}

func escalationReason(req EscalationRequest) string {
	if req.Reason != "" {
		return req.Reason
	}
	switch req.BreachType {
	case domain.BreachTypeResponse:
		return "response SLA breached"
	case domain.BreachTypeResolution:
		return "resolution SLA breached"
	default:
		return "SLA escalation"
	}
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func clockOrDefault(clock func() time.Time) func() time.Time {
	if clock == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return clock
}

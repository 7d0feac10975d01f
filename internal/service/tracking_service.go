package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/calendar"
	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/events"
	"github.com/govdesk/sla-service/internal/observability"
	"github.com/govdesk/sla-service/internal/repository"
)

// TrackingService attaches SLA tracking to tickets and reports on it.
type TrackingService struct {
	store      repository.Store
	resolver   *PolicyResolver
	calculator *calendar.Calculator
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// TrackingDependencies bundles collaborators for the tracking service.
type TrackingDependencies struct {
	Store      repository.Store
	Resolver   *PolicyResolver
	Calculator *calendar.Calculator
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Clock      func() time.Time
}

// TrackingStatus is a tracking row with its live status. When the policy respects
// business hours the remaining and overdue figures count working minutes only.
type TrackingStatus struct {
	Tracking      domain.SLATracking
	Live          domain.LiveStatus
	BusinessHours bool
}

// NewTrackingService constructs the service.
func NewTrackingService(deps TrackingDependencies) *TrackingService {
	resolver := deps.Resolver
	if resolver == nil {
		resolver = NewPolicyResolver(deps.Store.Repos().Policies)
	}
	return &TrackingService{
		store:      deps.Store,
		resolver:   resolver,
		calculator: deps.Calculator,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		metrics:    deps.Metrics,
		now:        clockOrDefault(deps.Clock),
	}
}

// AttachTicket loads the ticket snapshot and attaches tracking to it. created is false
// when the ticket was already tracked.
func (s *TrackingService) AttachTicket(ctx context.Context, ticketID string) (tracking *domain.SLATracking, created bool, err error) {
	ticket, err := s.store.Repos().Tickets.GetSnapshot(ctx, ticketID)
	if err != nil {
		return nil, false, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	return s.attach(ctx, *ticket)
}

// Attach creates the tracking row of a ticket with both due instants computed from its
// creation instant. It returns the existing row when the ticket is already tracked, and
// nil without error when the agency has no applicable policy or rule.
func (s *TrackingService) Attach(ctx context.Context, ticket domain.TicketSnapshot) (*domain.SLATracking, error) {
	tracking, _, err := s.attach(ctx, ticket)
	return tracking, err
}

func (s *TrackingService) attach(ctx context.Context, ticket domain.TicketSnapshot) (*domain.SLATracking, bool, error) {
	repos := s.store.Repos()
	existing, err := repos.Tracking.GetByTicketID(ctx, ticket.ID)
	if err == nil {
		s.metrics.RecordAttach("existing")
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		s.metrics.RecordAttach("failed")
		return nil, false, fmt.Errorf("lookup tracking: %w", err)
	}

	resolution, err := s.resolver.Resolve(ctx, ticket.AgencyID, ticket.PriorityID, ticket.CategoryID)
	if errors.Is(err, ErrNoActivePolicy) || errors.Is(err, ErrNoMatchingRule) {
		s.logger.Warn("ticket proceeds without SLA tracking",
			zap.String("ticket_id", ticket.ID),
			zap.String("agency_id", ticket.AgencyID),
			zap.Error(err))
		s.metrics.RecordAttach("skipped")
		return nil, false, nil
	}
	if err != nil {
		s.metrics.RecordAttach("failed")
		return nil, false, err
	}

	tracking, err := s.buildTracking(ctx, ticket, resolution)
	if err != nil {
		s.metrics.RecordAttach("failed")
		return nil, false, err
	}

	if err := repos.Tracking.Create(ctx, tracking); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			s.metrics.RecordAttach("existing")
			row, getErr := repos.Tracking.GetByTicketID(ctx, ticket.ID)
			return row, false, getErr
		}
		s.metrics.RecordAttach("failed")
		return nil, false, fmt.Errorf("create tracking: %w", err)
	}

	s.metrics.RecordAttach("created")
	s.logger.Info("SLA tracking attached",
		zap.String("ticket_id", ticket.ID),
		zap.String("policy_id", resolution.Policy.ID),
		zap.String("rule_id", resolution.Rule.ID),
		zap.Time("response_due_at", tracking.ResponseDueAt),
		zap.Time("resolution_due_at", tracking.ResolutionDueAt))
	s.publish(ctx, events.NewEvent(events.EventSLAAttached, ticket.ID, s.now(), events.SLAAttachedPayload{
		TrackingID:           tracking.ID,
		PolicyID:             tracking.PolicyID,
		RuleID:               tracking.RuleID,
		RespectBusinessHours: resolution.Policy.RespectBusinessHours,
		ResponseDueAt:        tracking.ResponseDueAt,
		ResolutionDueAt:      tracking.ResolutionDueAt,
	}))
	return tracking, true, nil
}

func (s *TrackingService) buildTracking(ctx context.Context, ticket domain.TicketSnapshot, resolution *Resolution) (*domain.SLATracking, error) {
	businessHours := resolution.Policy.RespectBusinessHours
	responseDue, err := s.calculator.DueAt(ctx, ticket.CreatedAt, resolution.Rule.ResponseTimeMinutes, businessHours, ticket.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("compute response due: %w", err)
	}
	resolutionDue, err := s.calculator.DueAt(ctx, ticket.CreatedAt, resolution.Rule.ResolutionTimeMinutes, businessHours, ticket.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("compute resolution due: %w", err)
	}
	return &domain.SLATracking{
		TicketID:        ticket.ID,
		PolicyID:        resolution.Policy.ID,
		RuleID:          resolution.Rule.ID,
		ResponseDueAt:   responseDue,
		ResolutionDueAt: resolutionDue,
	}, nil
}

// Status returns the tracking row of a ticket with its live status.
func (s *TrackingService) Status(ctx context.Context, ticketID string) (*TrackingStatus, error) {
	repos := s.store.Repos()
	tracking, err := repos.Tracking.GetByTicketID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	ticket, err := repos.Tickets.GetSnapshot(ctx, ticketID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	now := s.now()
	status := &TrackingStatus{Tracking: *tracking, Live: tracking.LiveStatus(now, ticket)}

	policy, err := repos.Policies.GetPolicy(ctx, tracking.PolicyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return status, nil
		}
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if !policy.RespectBusinessHours {
		return status, nil
	}

	status.BusinessHours = true
	for _, commitment := range []*domain.CommitmentStatus{&status.Live.Response, &status.Live.Resolution} {
		if err := s.businessMinutes(ctx, policy.AgencyID, commitment, now); err != nil {
			return nil, err
		}
	}
	return status, nil
}

func (s *TrackingService) businessMinutes(ctx context.Context, agencyID string, c *domain.CommitmentStatus, now time.Time) error {
	if c.State == domain.CommitmentMet {
		return nil
	}
	end := now
	if c.SettledAt != nil {
		end = *c.SettledAt
	}
	var err error
	c.RemainingMinutes, c.OverdueMinutes = 0, 0
	switch {
	case !end.Before(c.DueAt):
		c.OverdueMinutes, err = s.calculator.BusinessMinutesBetween(ctx, agencyID, c.DueAt, end)
	case c.SettledAt == nil:
		c.RemainingMinutes, err = s.calculator.BusinessMinutesBetween(ctx, agencyID, now, c.DueAt)
	}
	if err != nil {
		return fmt.Errorf("business minutes for %s: %w", c.BreachType, err)
	}
	return nil
}

// ListBreaches returns the breach log of a ticket.
func (s *TrackingService) ListBreaches(ctx context.Context, ticketID string) ([]domain.BreachLog, error) {
	return s.store.Repos().Breaches.ListByTicket(ctx, ticketID)
}

// ListEscalations returns the escalation history of a ticket.
func (s *TrackingService) ListEscalations(ctx context.Context, ticketID string) ([]domain.EscalationEvent, error) {
	return s.store.Repos().Escalations.ListEventsByTicket(ctx, ticketID)
}

// PreviewDueAt computes a due instant without touching any ticket.
func (s *TrackingService) PreviewDueAt(ctx context.Context, agencyID string, start time.Time, minutes int, businessHours bool) (time.Time, error) {
	return s.calculator.DueAt(ctx, start, minutes, businessHours, agencyID)
}

func (s *TrackingService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

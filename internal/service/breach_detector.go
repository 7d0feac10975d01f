package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/events"
	"github.com/govdesk/sla-service/internal/observability"
	"github.com/govdesk/sla-service/internal/repository"
)

// TransitionKind is the outcome of evaluating one commitment.
type TransitionKind int

const (
	TransitionNone TransitionKind = iota
	TransitionMet
	TransitionBreached
)

// Transition is the state change a commitment should undergo.
type Transition struct {
	Kind           TransitionKind
	BreachType     domain.BreachType
	At             time.Time
	OverdueMinutes int64
}

// EvaluateCommitment decides the transition of one pending commitment at now. A
// qualifying event at or before the due instant meets the commitment; a late event, or no
// event once the due instant has passed on an open ticket, breaches it.
func EvaluateCommitment(tracking *domain.SLATracking, ticket *domain.TicketSnapshot, breachType domain.BreachType, now time.Time) Transition {
	none := Transition{Kind: TransitionNone, BreachType: breachType}
	if tracking.State(breachType) != domain.CommitmentPending {
		return none
	}
	due := tracking.DueAt(breachType)
	if eventAt := ticket.QualifyingEventAt(breachType); eventAt != nil {
		if !eventAt.After(due) {
			return Transition{Kind: TransitionMet, BreachType: breachType, At: *eventAt}
		}
		return Transition{
			Kind:           TransitionBreached,
			BreachType:     breachType,
			At:             *eventAt,
			OverdueMinutes: int64(eventAt.Sub(due) / time.Minute),
		}
	}
	if now.After(due) && !ticket.IsClosed() {
		return Transition{
			Kind:           TransitionBreached,
			BreachType:     breachType,
			At:             now,
			OverdueMinutes: int64(now.Sub(due) / time.Minute),
		}
	}
	return none
}

// ScanResult summarizes one detector pass.
type ScanResult struct {
	Evaluated int           `json:"evaluated"`
	Met       int           `json:"met"`
	Breached  int           `json:"breached"`
	Escalated int           `json:"escalated"`
	FollowUps int           `json:"follow_ups"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// BreachDetector reconciles pending commitments against ticket events and the clock.
type BreachDetector struct {
	store      repository.Store
	escalation *EscalationEngine
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	batchSize  int
	workers    int
}

// DetectorDependencies bundles collaborators for the detector.
type DetectorDependencies struct {
	Store      repository.Store
	Escalation *EscalationEngine
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Clock      func() time.Time
	BatchSize  int
	Workers    int
}

// NewBreachDetector constructs the detector.
func NewBreachDetector(deps DetectorDependencies) *BreachDetector {
	workers := deps.Workers
	if workers <= 0 {
		workers = 1
	}
	return &BreachDetector{
		store:      deps.Store,
		escalation: deps.Escalation,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		metrics:    deps.Metrics,
		now:        clockOrDefault(deps.Clock),
		batchSize:  deps.BatchSize,
		workers:    workers,
	}
}

// Scan runs one pass: due commitments first, then follow-up escalations. Row failures are
// logged and counted; only a failure to list rows aborts the pass.
func (d *BreachDetector) Scan(ctx context.Context) (ScanResult, error) {
	started := time.Now()
	now := d.now()
	var (
		mu     sync.Mutex
		result ScanResult
	)
	record := func(fn func(*ScanResult)) {
		mu.Lock()
		fn(&result)
		mu.Unlock()
	}

	due, err := d.store.Repos().Tracking.ListDue(ctx, now, d.batchSize)
	if err != nil {
		return result, fmt.Errorf("list due tracking rows: %w", err)
	}
	d.forEach(ctx, due, func(ctx context.Context, c domain.TrackingCandidate) {
		outcome, err := d.evaluate(ctx, c, now)
		record(func(r *ScanResult) {
			r.Evaluated++
			r.Met += outcome.met
			r.Breached += outcome.breached
			r.Escalated += outcome.escalated
			if err != nil {
				r.Failed++
			}
		})
		if err != nil {
			d.logger.Error("tracking evaluation failed",
				zap.String("tracking_id", c.Tracking.ID),
				zap.String("ticket_id", c.Ticket.ID),
				zap.Error(err))
		}
	})

	if d.escalation != nil {
		followUps, err := d.store.Repos().Tracking.ListFollowUps(ctx, now, d.batchSize)
		if err != nil {
			return result, fmt.Errorf("list follow-up escalations: %w", err)
		}
		d.forEach(ctx, followUps, func(ctx context.Context, c domain.TrackingCandidate) {
			escalated, err := d.followUp(ctx, c)
			record(func(r *ScanResult) {
				r.FollowUps++
				if escalated {
					r.Escalated++
				}
				if err != nil {
					r.Failed++
				}
			})
			if err != nil {
				d.logger.Error("follow-up escalation failed",
					zap.String("tracking_id", c.Tracking.ID),
					zap.String("ticket_id", c.Ticket.ID),
					zap.Error(err))
			}
		})
	}

	result.Duration = time.Since(started)
	d.metrics.ObserveScan(result.Duration, result.Evaluated+result.FollowUps, result.Failed)
	d.logger.Info("breach scan completed",
		zap.Int("evaluated", result.Evaluated),
		zap.Int("met", result.Met),
		zap.Int("breached", result.Breached),
		zap.Int("escalated", result.Escalated),
		zap.Int("follow_ups", result.FollowUps),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, ctx.Err()
}

// forEach runs fn over candidates on a bounded pool. Scheduling stops when ctx is done.
func (d *BreachDetector) forEach(ctx context.Context, candidates []domain.TrackingCandidate, fn func(context.Context, domain.TrackingCandidate)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, candidate := range candidates {
		if gctx.Err() != nil {
			break
		}
		candidate := candidate
		g.Go(func() error {
			fn(gctx, candidate)
			return nil
		})
	}
	_ = g.Wait()
}

type rowOutcome struct {
	met       int
	breached  int
	escalated int
}

// evaluate handles both commitments of one row. They are independent: a failure on one
// does not prevent the other.
func (d *BreachDetector) evaluate(ctx context.Context, c domain.TrackingCandidate, now time.Time) (rowOutcome, error) {
	var (
		outcome rowOutcome
		errs    []error
	)
	for _, bt := range domain.BreachTypes {
		transition := EvaluateCommitment(&c.Tracking, &c.Ticket, bt, now)
		switch transition.Kind {
		case TransitionMet:
			applied, err := d.markMet(ctx, c, transition)
			if err != nil {
				errs = append(errs, err)
			} else if applied {
				outcome.met++
			}
		case TransitionBreached:
			applied, escalated, err := d.markBreached(ctx, c, transition)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if applied {
				outcome.breached++
			}
			if escalated {
				outcome.escalated++
			}
		}
	}
	return outcome, errors.Join(errs...)
}

func (d *BreachDetector) markMet(ctx context.Context, c domain.TrackingCandidate, t Transition) (bool, error) {
	applied, err := d.store.Repos().Tracking.MarkMet(ctx, c.Tracking.ID, t.BreachType, t.At)
	if err != nil {
		return false, fmt.Errorf("mark %s met: %w", t.BreachType, err)
	}
	if !applied {
		return false, nil
	}
	d.metrics.RecordTransition(string(t.BreachType), string(domain.CommitmentMet))
	d.publish(ctx, events.NewEvent(events.EventSLAMet, c.Ticket.ID, t.At, events.SLAMetPayload{
		TrackingID: c.Tracking.ID,
		BreachType: t.BreachType,
		DueAt:      c.Tracking.DueAt(t.BreachType),
		MetAt:      t.At,
	}))
	return true, nil
}

// markBreached flips the commitment, writes the breach log and escalates in one
// transaction. It reports whether this call performed the transition.
func (d *BreachDetector) markBreached(ctx context.Context, c domain.TrackingCandidate, t Transition) (bool, bool, error) {
	log := domain.BreachLog{
		SLATrackingID:  c.Tracking.ID,
		TicketID:       c.Ticket.ID,
		BreachType:     t.BreachType,
		BreachedAt:     t.At,
		OverdueMinutes: t.OverdueMinutes,
	}
	request := EscalationRequest{
		TicketID:    c.Ticket.ID,
		TrackingID:  c.Tracking.ID,
		BreachType:  t.BreachType,
		TriggeredBy: domain.TriggeredBySystem,
	}

	var (
		applied    bool
		escalation *EscalationResult
	)
	err := d.store.WithinTx(ctx, func(repos repository.Repositories) error {
		ok, err := repos.Tracking.MarkBreached(ctx, c.Tracking.ID, t.BreachType, t.At)
		if err != nil {
			return fmt.Errorf("mark %s breached: %w", t.BreachType, err)
		}
		if !ok {
			return nil
		}
		if err := repos.Breaches.Create(ctx, &log); err != nil {
			return fmt.Errorf("insert %s breach log: %w", t.BreachType, err)
		}
		if d.escalation != nil {
			escalation, err = d.escalation.EscalateWithin(ctx, repos, request, t.At)
			if err != nil {
				return fmt.Errorf("escalate after %s breach: %w", t.BreachType, err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	if !applied {
		return false, false, nil
	}

	d.metrics.RecordTransition(string(t.BreachType), string(domain.CommitmentBreached))
	d.logger.Warn("SLA breached",
		zap.String("ticket_id", c.Ticket.ID),
		zap.String("breach_type", string(t.BreachType)),
		zap.Int64("overdue_minutes", t.OverdueMinutes))
	d.publish(ctx, events.NewEvent(events.EventSLABreached, c.Ticket.ID, t.At, events.SLABreachedPayload{
		TrackingID:     c.Tracking.ID,
		BreachLogID:    log.ID,
		BreachType:     t.BreachType,
		DueAt:          c.Tracking.DueAt(t.BreachType),
		BreachedAt:     t.At,
		OverdueMinutes: t.OverdueMinutes,
	}))
	if d.escalation != nil {
		d.escalation.Announce(ctx, request, escalation)
	}
	return true, escalation != nil, nil
}

func (d *BreachDetector) followUp(ctx context.Context, c domain.TrackingCandidate) (bool, error) {
	reason := "resolution still pending after breach"
	if c.EscalateAfterMinutes != nil {
		reason = fmt.Sprintf("resolution still pending %d minutes after last escalation", *c.EscalateAfterMinutes)
	}
	result, err := d.escalation.Escalate(ctx, EscalationRequest{
		TicketID:    c.Ticket.ID,
		TrackingID:  c.Tracking.ID,
		BreachType:  domain.BreachTypeResolution,
		Reason:      reason,
		TriggeredBy: domain.TriggeredBySystem,
	})
	if errors.Is(err, ErrEscalationConflict) {
		return false, nil
	}
	return result != nil, err
}

func (d *BreachDetector) publish(ctx context.Context, event events.Event) {
	if d.dispatcher == nil {
		return
	}
	if err := d.dispatcher.Publish(ctx, event); err != nil {
		d.logger.Warn("publish event failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/govdesk/sla-service/internal/domain"
)

// TrackingRepository persists per-ticket SLA state.
type TrackingRepository interface {
	Create(ctx context.Context, tracking *domain.SLATracking) error
	GetByID(ctx context.Context, id string) (*domain.SLATracking, error)
	GetByTicketID(ctx context.Context, ticketID string) (*domain.SLATracking, error)
	// ListDue returns rows with at least one pending commitment that either has a
	// qualifying event to reconcile or is past due on an open ticket.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.TrackingCandidate, error)
	// ListFollowUps returns breached, still unresolved rows whose rule asks for repeated
	// escalation and whose last escalation is older than the rule interval.
	ListFollowUps(ctx context.Context, now time.Time, limit int) ([]domain.TrackingCandidate, error)
	// MarkMet and MarkBreached only touch a commitment that is still pending and report
	// whether this call performed the transition.
	MarkMet(ctx context.Context, id string, breachType domain.BreachType, at time.Time) (bool, error)
	MarkBreached(ctx context.Context, id string, breachType domain.BreachType, at time.Time) (bool, error)
	// AdvanceEscalation moves the level from `from` to `to` only if it still equals `from`.
	AdvanceEscalation(ctx context.Context, id string, from, to int, at time.Time) (bool, error)
}

type trackingRepository struct {
	db DBTX
}

// NewTrackingRepository instantiates repository.
func NewTrackingRepository(db DBTX) TrackingRepository {
	return &trackingRepository{db: db}
}

const trackingColumns = `s.id, s.ticket_id, s.policy_id, s.rule_id, s.response_due_at, s.resolution_due_at,
        s.response_met, s.response_met_at, s.response_breached, s.response_breached_at,
        s.resolution_met, s.resolution_met_at, s.resolution_breached, s.resolution_breached_at,
        s.escalation_level, s.last_escalated_at, s.created_at, s.updated_at`

const candidateColumns = trackingColumns + `,
        t.id, t.agency_id, t.priority_id, t.category_id, t.status, t.created_at,
        t.first_response_at, t.resolved_at, t.is_escalated, t.escalation_level,
        r.escalate_after_minutes`

func (r *trackingRepository) Create(ctx context.Context, tracking *domain.SLATracking) error {
	const query = `
        INSERT INTO sla_tracking (ticket_id, policy_id, rule_id, response_due_at, resolution_due_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (ticket_id) DO NOTHING
        RETURNING id, escalation_level, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		tracking.TicketID,
		tracking.PolicyID,
		tracking.RuleID,
		tracking.ResponseDueAt,
		tracking.ResolutionDueAt,
	).Scan(&tracking.ID, &tracking.EscalationLevel, &tracking.CreatedAt, &tracking.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r *trackingRepository) GetByID(ctx context.Context, id string) (*domain.SLATracking, error) {
	query := `SELECT ` + trackingColumns + ` FROM sla_tracking s WHERE s.id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *trackingRepository) GetByTicketID(ctx context.Context, ticketID string) (*domain.SLATracking, error) {
	query := `SELECT ` + trackingColumns + ` FROM sla_tracking s WHERE s.ticket_id=$1`
	return r.fetchSingle(ctx, query, ticketID)
}

func (r *trackingRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.SLATracking, error) {
	var tracking domain.SLATracking
	if err := r.db.QueryRow(ctx, query, arg).Scan(trackingDest(&tracking)...); err != nil {
		return nil, notFound(err)
	}
	return &tracking, nil
}

func (r *trackingRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.TrackingCandidate, error) {
	query := `
        SELECT ` + candidateColumns + `
        FROM sla_tracking s
        JOIN tickets t ON t.id = s.ticket_id
        JOIN sla_rules r ON r.id = s.rule_id
        WHERE (NOT s.response_met AND NOT s.response_breached
                AND (t.first_response_at IS NOT NULL
                     OR (s.response_due_at < $1 AND t.status NOT IN ('CLOSED','CANCELLED'))))
           OR (NOT s.resolution_met AND NOT s.resolution_breached
                AND (t.resolved_at IS NOT NULL
                     OR (s.resolution_due_at < $1 AND t.status NOT IN ('CLOSED','CANCELLED'))))
        ORDER BY LEAST(s.response_due_at, s.resolution_due_at) ASC
        LIMIT $2`
	return r.listCandidates(ctx, query, now, normalizeLimit(limit))
}

func (r *trackingRepository) ListFollowUps(ctx context.Context, now time.Time, limit int) ([]domain.TrackingCandidate, error) {
	query := `
        SELECT ` + candidateColumns + `
        FROM sla_tracking s
        JOIN tickets t ON t.id = s.ticket_id
        JOIN sla_rules r ON r.id = s.rule_id
        WHERE s.resolution_breached
          AND t.resolved_at IS NULL
          AND t.status NOT IN ('CLOSED','CANCELLED')
          AND r.escalate_after_minutes IS NOT NULL
          AND s.last_escalated_at IS NOT NULL
          AND s.last_escalated_at + make_interval(mins => r.escalate_after_minutes) <= $1
        ORDER BY s.last_escalated_at ASC
        LIMIT $2`
	return r.listCandidates(ctx, query, now, normalizeLimit(limit))
}

func (r *trackingRepository) listCandidates(ctx context.Context, query string, args ...any) ([]domain.TrackingCandidate, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TrackingCandidate
	for rows.Next() {
		var candidate domain.TrackingCandidate
		dest := trackingDest(&candidate.Tracking)
		dest = append(dest, ticketDest(&candidate.Ticket)...)
		dest = append(dest, &candidate.EscalateAfterMinutes)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		result = append(result, candidate)
	}
	return result, rows.Err()
}

func (r *trackingRepository) MarkMet(ctx context.Context, id string, breachType domain.BreachType, at time.Time) (bool, error) {
	prefix, err := commitmentPrefix(breachType)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
        UPDATE sla_tracking SET %[1]s_met=TRUE, %[1]s_met_at=$2, updated_at=NOW()
        WHERE id=$1 AND NOT %[1]s_met AND NOT %[1]s_breached`, prefix)
	cmd, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *trackingRepository) MarkBreached(ctx context.Context, id string, breachType domain.BreachType, at time.Time) (bool, error) {
	prefix, err := commitmentPrefix(breachType)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
        UPDATE sla_tracking SET %[1]s_breached=TRUE, %[1]s_breached_at=$2, updated_at=NOW()
        WHERE id=$1 AND NOT %[1]s_met AND NOT %[1]s_breached`, prefix)
	cmd, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *trackingRepository) AdvanceEscalation(ctx context.Context, id string, from, to int, at time.Time) (bool, error) {
	const query = `
        UPDATE sla_tracking SET escalation_level=$3, last_escalated_at=$4, updated_at=NOW()
        WHERE id=$1 AND escalation_level=$2`
	cmd, err := r.db.Exec(ctx, query, id, from, to, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func commitmentPrefix(breachType domain.BreachType) (string, error) {
	switch breachType {
	case domain.BreachTypeResponse:
		return "response", nil
	case domain.BreachTypeResolution:
		return "resolution", nil
	default:
		return "", fmt.Errorf("unknown breach type %q", breachType)
	}
}

func trackingDest(t *domain.SLATracking) []any {
	return []any{
		&t.ID,
		&t.TicketID,
		&t.PolicyID,
		&t.RuleID,
		&t.ResponseDueAt,
		&t.ResolutionDueAt,
		&t.ResponseMet,
		&t.ResponseMetAt,
		&t.ResponseBreached,
		&t.ResponseBreachedAt,
		&t.ResolutionMet,
		&t.ResolutionMetAt,
		&t.ResolutionBreached,
		&t.ResolutionBreachedAt,
		&t.EscalationLevel,
		&t.LastEscalatedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 500
	}
	return limit
}

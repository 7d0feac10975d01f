package repository

import (
	"context"

	"github.com/govdesk/sla-service/internal/domain"
)

// BreachLogRepository stores append-only breach records.
type BreachLogRepository interface {
	Create(ctx context.Context, log *domain.BreachLog) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.BreachLog, error)
}

type breachLogRepository struct {
	db DBTX
}

// NewBreachLogRepository builds repository.
func NewBreachLogRepository(db DBTX) BreachLogRepository {
	return &breachLogRepository{db: db}
}

func (r *breachLogRepository) Create(ctx context.Context, log *domain.BreachLog) error {
	const query = `
        INSERT INTO sla_breach_logs (sla_tracking_id, ticket_id, breach_type, breached_at, overdue_minutes)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	err := r.db.QueryRow(ctx, query,
		log.SLATrackingID,
		log.TicketID,
		log.BreachType,
		log.BreachedAt,
		log.OverdueMinutes,
	).Scan(&log.ID, &log.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r *breachLogRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.BreachLog, error) {
	const query = `
        SELECT id, sla_tracking_id, ticket_id, breach_type, breached_at, overdue_minutes, created_at
        FROM sla_breach_logs WHERE ticket_id=$1 ORDER BY breached_at ASC, created_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.BreachLog
	for rows.Next() {
		var log domain.BreachLog
		if err := rows.Scan(
			&log.ID,
			&log.SLATrackingID,
			&log.TicketID,
			&log.BreachType,
			&log.BreachedAt,
			&log.OverdueMinutes,
			&log.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, log)
	}
	return result, rows.Err()
}

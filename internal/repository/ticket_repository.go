package repository

import (
	"context"

	"github.com/govdesk/sla-service/internal/domain"
)

// TicketRepository reads the ticket collaborator's data and records escalation state on it.
type TicketRepository interface {
	GetSnapshot(ctx context.Context, id string) (*domain.TicketSnapshot, error)
	// MarkEscalated flags the ticket as escalated and raises its level; a lower level
	// never overwrites a higher one.
	MarkEscalated(ctx context.Context, id string, level int) error
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) GetSnapshot(ctx context.Context, id string) (*domain.TicketSnapshot, error) {
	const query = `
        SELECT t.id, t.agency_id, t.priority_id, t.category_id, t.status, t.created_at,
               t.first_response_at, t.resolved_at, t.is_escalated, t.escalation_level
        FROM tickets t WHERE t.id=$1`
	var ticket domain.TicketSnapshot
	if err := r.db.QueryRow(ctx, query, id).Scan(ticketDest(&ticket)...); err != nil {
		return nil, notFound(err)
	}
	return &ticket, nil
}

func (r *ticketRepository) MarkEscalated(ctx context.Context, id string, level int) error {
	const query = `
        UPDATE tickets SET is_escalated=TRUE, escalation_level=GREATEST(escalation_level, $2), updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.db.Exec(ctx, query, id, level)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func ticketDest(t *domain.TicketSnapshot) []any {
	return []any{
		&t.ID,
		&t.AgencyID,
		&t.PriorityID,
		&t.CategoryID,
		&t.Status,
		&t.CreatedAt,
		&t.FirstResponseAt,
		&t.ResolvedAt,
		&t.IsEscalated,
		&t.EscalationLevel,
	}
}

package repository

import (
	"context"

	"github.com/govdesk/sla-service/internal/domain"
)

// EscalationRepository reads escalation matrices and records escalation events.
type EscalationRepository interface {
	CreateMatrix(ctx context.Context, matrix *domain.EscalationMatrix) error
	CreateLevel(ctx context.Context, level *domain.EscalationLevel) error
	// FindMatrix returns the active auto-escalating matrix of an agency, preferring one
	// scoped to the given priority over the agency-wide one.
	FindMatrix(ctx context.Context, agencyID string, priorityID *string) (*domain.EscalationMatrix, error)
	GetLevel(ctx context.Context, matrixID string, levelNumber int) (*domain.EscalationLevel, error)
	CreateEvent(ctx context.Context, event *domain.EscalationEvent) error
	ListEventsByTicket(ctx context.Context, ticketID string) ([]domain.EscalationEvent, error)
}

type escalationRepository struct {
	db DBTX
}

// NewEscalationRepository builds repository.
func NewEscalationRepository(db DBTX) EscalationRepository {
	return &escalationRepository{db: db}
}

func (r *escalationRepository) CreateMatrix(ctx context.Context, matrix *domain.EscalationMatrix) error {
	const query = `
        INSERT INTO escalation_matrices (agency_id, priority_id, name, auto_escalate,
            response_ceiling_minutes, resolution_ceiling_minutes, is_active)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	return r.db.QueryRow(ctx, query,
		matrix.AgencyID,
		matrix.PriorityID,
		matrix.Name,
		matrix.AutoEscalate,
		matrix.ResponseCeilingMinutes,
		matrix.ResolutionCeilingMinutes,
		matrix.IsActive,
	).Scan(&matrix.ID, &matrix.CreatedAt)
}

func (r *escalationRepository) CreateLevel(ctx context.Context, level *domain.EscalationLevel) error {
	const query = `
        INSERT INTO escalation_levels (matrix_id, level_number, role_name, department_id,
            notify_email, notify_sms, notify_push)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id`
	err := r.db.QueryRow(ctx, query,
		level.MatrixID,
		level.LevelNumber,
		level.RoleName,
		level.DepartmentID,
		level.NotifyEmail,
		level.NotifySMS,
		level.NotifyPush,
	).Scan(&level.ID)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r *escalationRepository) FindMatrix(ctx context.Context, agencyID string, priorityID *string) (*domain.EscalationMatrix, error) {
	const query = `
        SELECT id, agency_id, priority_id, name, auto_escalate, response_ceiling_minutes,
               resolution_ceiling_minutes, is_active, created_at
        FROM escalation_matrices
        WHERE agency_id=$1 AND is_active=TRUE AND auto_escalate=TRUE
          AND (priority_id IS NULL OR priority_id=$2)
        ORDER BY (priority_id IS NULL) ASC, created_at DESC
        LIMIT 1`
	var matrix domain.EscalationMatrix
	if err := r.db.QueryRow(ctx, query, agencyID, priorityID).Scan(
		&matrix.ID,
		&matrix.AgencyID,
		&matrix.PriorityID,
		&matrix.Name,
		&matrix.AutoEscalate,
		&matrix.ResponseCeilingMinutes,
		&matrix.ResolutionCeilingMinutes,
		&matrix.IsActive,
		&matrix.CreatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &matrix, nil
}

func (r *escalationRepository) GetLevel(ctx context.Context, matrixID string, levelNumber int) (*domain.EscalationLevel, error) {
	const query = `
        SELECT id, matrix_id, level_number, role_name, department_id, notify_email, notify_sms, notify_push
        FROM escalation_levels WHERE matrix_id=$1 AND level_number=$2`
	var level domain.EscalationLevel
	if err := r.db.QueryRow(ctx, query, matrixID, levelNumber).Scan(
		&level.ID,
		&level.MatrixID,
		&level.LevelNumber,
		&level.RoleName,
		&level.DepartmentID,
		&level.NotifyEmail,
		&level.NotifySMS,
		&level.NotifyPush,
	); err != nil {
		return nil, notFound(err)
	}
	return &level, nil
}

func (r *escalationRepository) CreateEvent(ctx context.Context, event *domain.EscalationEvent) error {
	const query = `
        INSERT INTO escalation_events (ticket_id, sla_tracking_id, level_id, previous_level, new_level, reason, triggered_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	return r.db.QueryRow(ctx, query,
		event.TicketID,
		event.SLATrackingID,
		event.LevelID,
		event.PreviousLevel,
		event.NewLevel,
		event.Reason,
		event.TriggeredBy,
	).Scan(&event.ID, &event.CreatedAt)
}

func (r *escalationRepository) ListEventsByTicket(ctx context.Context, ticketID string) ([]domain.EscalationEvent, error) {
	const query = `
        SELECT id, ticket_id, sla_tracking_id, level_id, previous_level, new_level, reason, triggered_by, created_at
        FROM escalation_events WHERE ticket_id=$1 ORDER BY created_at ASC, new_level ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationEvent
	for rows.Next() {
		var event domain.EscalationEvent
		if err := rows.Scan(
			&event.ID,
			&event.TicketID,
			&event.SLATrackingID,
			&event.LevelID,
			&event.PreviousLevel,
			&event.NewLevel,
			&event.Reason,
			&event.TriggeredBy,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

package repository

import (
	"context"

	"github.com/govdesk/sla-service/internal/domain"
)

// PolicyRepository reads SLA policies and their rules.
type PolicyRepository interface {
	CreatePolicy(ctx context.Context, policy *domain.SLAPolicy) error
	CreateRule(ctx context.Context, rule *domain.SLARule) error
	GetActiveForAgency(ctx context.Context, agencyID string) (*domain.SLAPolicy, error)
	GetPolicy(ctx context.Context, id string) (*domain.SLAPolicy, error)
	GetRule(ctx context.Context, id string) (*domain.SLARule, error)
	ListRules(ctx context.Context, policyID string) ([]domain.SLARule, error)
}

type policyRepository struct {
	db DBTX
}

// NewPolicyRepository instantiates repository.
func NewPolicyRepository(db DBTX) PolicyRepository {
	return &policyRepository{db: db}
}

const policyColumns = `id, agency_id, name, description, is_active, respect_business_hours, created_at, updated_at`

const ruleColumns = `id, policy_id, priority_id, category_id, response_time_minutes,
               resolution_time_minutes, escalate_after_minutes, created_at`

func (r *policyRepository) CreatePolicy(ctx context.Context, policy *domain.SLAPolicy) error {
	const query = `
        INSERT INTO sla_policies (agency_id, name, description, is_active, respect_business_hours)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		policy.AgencyID,
		policy.Name,
		policy.Description,
		policy.IsActive,
		policy.RespectBusinessHours,
	).Scan(&policy.ID, &policy.CreatedAt, &policy.UpdatedAt)
}

func (r *policyRepository) CreateRule(ctx context.Context, rule *domain.SLARule) error {
	const query = `
        INSERT INTO sla_rules (policy_id, priority_id, category_id, response_time_minutes,
            resolution_time_minutes, escalate_after_minutes)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return r.db.QueryRow(ctx, query,
		rule.PolicyID,
		rule.PriorityID,
		rule.CategoryID,
		rule.ResponseTimeMinutes,
		rule.ResolutionTimeMinutes,
		rule.EscalateAfterMinutes,
	).Scan(&rule.ID, &rule.CreatedAt)
}

func (r *policyRepository) GetActiveForAgency(ctx context.Context, agencyID string) (*domain.SLAPolicy, error) {
	const query = `
        SELECT ` + policyColumns + `
        FROM sla_policies
        WHERE agency_id=$1 AND is_active=TRUE
        ORDER BY created_at DESC, id DESC
        LIMIT 1`
	return r.fetchPolicy(ctx, query, agencyID)
}

func (r *policyRepository) GetPolicy(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	const query = `SELECT ` + policyColumns + ` FROM sla_policies WHERE id=$1`
	return r.fetchPolicy(ctx, query, id)
}

func (r *policyRepository) fetchPolicy(ctx context.Context, query string, arg any) (*domain.SLAPolicy, error) {
	var policy domain.SLAPolicy
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&policy.ID,
		&policy.AgencyID,
		&policy.Name,
		&policy.Description,
		&policy.IsActive,
		&policy.RespectBusinessHours,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &policy, nil
}

func (r *policyRepository) GetRule(ctx context.Context, id string) (*domain.SLARule, error) {
	const query = `SELECT ` + ruleColumns + ` FROM sla_rules WHERE id=$1`
	var rule domain.SLARule
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&rule.ID,
		&rule.PolicyID,
		&rule.PriorityID,
		&rule.CategoryID,
		&rule.ResponseTimeMinutes,
		&rule.ResolutionTimeMinutes,
		&rule.EscalateAfterMinutes,
		&rule.CreatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

func (r *policyRepository) ListRules(ctx context.Context, policyID string) ([]domain.SLARule, error) {
	const query = `
        SELECT ` + ruleColumns + `
        FROM sla_rules WHERE policy_id=$1
        ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLARule
	for rows.Next() {
		var rule domain.SLARule
		if err := rows.Scan(
			&rule.ID,
			&rule.PolicyID,
			&rule.PriorityID,
			&rule.CategoryID,
			&rule.ResponseTimeMinutes,
			&rule.ResolutionTimeMinutes,
			&rule.EscalateAfterMinutes,
			&rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

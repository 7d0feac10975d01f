package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/repository"
)

var (
	// ErrNoActivePolicy means the agency has no active SLA policy.
	ErrNoActivePolicy = errors.New("no active SLA policy for agency")
	// ErrNoMatchingRule means the active policy has no rules at all.
	ErrNoMatchingRule = errors.New("SLA policy has no rules")
)

// Resolution is the policy and rule that govern a ticket.
type Resolution struct {
	Policy domain.SLAPolicy
	Rule   domain.SLARule
}

// PolicyResolver picks the SLA rule for a ticket.
type PolicyResolver struct {
	policies repository.PolicyRepository
}

// NewPolicyResolver constructs the resolver.
func NewPolicyResolver(policies repository.PolicyRepository) *PolicyResolver {
	return &PolicyResolver{policies: policies}
}

// Resolve returns the agency's most recently created active policy and its most specific
// rule for the given priority and category.
func (r *PolicyResolver) Resolve(ctx context.Context, agencyID string, priorityID, categoryID *string) (*Resolution, error) {
	policy, err := r.policies.GetActiveForAgency(ctx, agencyID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoActivePolicy
	}
	if err != nil {
		return nil, fmt.Errorf("load active policy: %w", err)
	}

	rules, err := r.policies.ListRules(ctx, policy.ID)
	if err != nil {
		return nil, fmt.Errorf("load rules of policy %s: %w", policy.ID, err)
	}
	rule, ok := SelectRule(rules, priorityID, categoryID)
	if !ok {
		return nil, ErrNoMatchingRule
	}
	return &Resolution{Policy: *policy, Rule: *rule}, nil
}

// SelectRule applies the specificity order: priority and category, priority only,
// category only, catch-all, then the first rule. Rules are expected in creation order.
func SelectRule(rules []domain.SLARule, priorityID, categoryID *string) (*domain.SLARule, bool) {
	if len(rules) == 0 {
		return nil, false
	}
	matchers := []func(*domain.SLARule) bool{
		func(r *domain.SLARule) bool {
			return sameID(r.PriorityID, priorityID) && sameID(r.CategoryID, categoryID)
		},
		func(r *domain.SLARule) bool {
			return sameID(r.PriorityID, priorityID) && r.CategoryID == nil
		},
		func(r *domain.SLARule) bool {
			return r.PriorityID == nil && sameID(r.CategoryID, categoryID)
		},
		func(r *domain.SLARule) bool {
			return r.IsCatchAll()
		},
	}
	for _, match := range matchers {
		for i := range rules {
			if match(&rules[i]) {
				return &rules[i], true
			}
		}
	}
	return &rules[0], true
}

// sameID reports whether a rule constraint equals a ticket value; both must be set.
func sameID(constraint, value *string) bool {
	return constraint != nil && value != nil && *constraint == *value
}

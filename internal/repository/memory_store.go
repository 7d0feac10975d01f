package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/govdesk/sla-service/internal/domain"
)

// MemoryStore is an in-process Store. Transactions are serialized and run against a copy
// of the state that replaces the live state only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: newMemState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Repos returns repositories operating directly on the live state.
func (s *MemoryStore) Repos() Repositories {
	return memRepositories(s, s.now)
}

// WithinTx runs fn against a private copy of the state and publishes it if fn succeeds.
// fn must only use the repositories it is given.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(repos Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.state.clone()
	if err := fn(memRepositories(&memTx{state: draft}, s.now)); err != nil {
		return err
	}
	s.state = draft
	return nil
}

// PutTicket inserts or replaces the snapshot of a ticket owned by the ticket service.
func (s *MemoryStore) PutTicket(ticket domain.TicketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tickets[ticket.ID] = ticket
}

func (s *MemoryStore) view(fn func(*memState) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *MemoryStore) update(fn func(*memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

type memAccess interface {
	view(fn func(*memState) error) error
	update(fn func(*memState) error) error
}

type memTx struct {
	state *memState
}

func (t *memTx) view(fn func(*memState) error) error   { return fn(t.state) }
func (t *memTx) update(fn func(*memState) error) error { return fn(t.state) }

type memState struct {
	seq       int64
	order     map[string]int64
	policies  map[string]domain.SLAPolicy
	rules     map[string]domain.SLARule
	hours     map[string]map[time.Weekday]domain.AgencyBusinessHour
	overrides map[string]map[string]domain.BusinessCalendarOverride
	tracking  map[string]domain.SLATracking
	byTicket  map[string]string
	breaches  []domain.BreachLog
	matrices  map[string]domain.EscalationMatrix
	levels    map[string]domain.EscalationLevel
	events    []domain.EscalationEvent
	tickets   map[string]domain.TicketSnapshot
}

func newMemState() *memState {
	return &memState{
		order:     make(map[string]int64),
		policies:  make(map[string]domain.SLAPolicy),
		rules:     make(map[string]domain.SLARule),
		hours:     make(map[string]map[time.Weekday]domain.AgencyBusinessHour),
		overrides: make(map[string]map[string]domain.BusinessCalendarOverride),
		tracking:  make(map[string]domain.SLATracking),
		byTicket:  make(map[string]string),
		matrices:  make(map[string]domain.EscalationMatrix),
		levels:    make(map[string]domain.EscalationLevel),
		tickets:   make(map[string]domain.TicketSnapshot),
	}
}

func (m *memState) clone() *memState {
	c := newMemState()
	c.seq = m.seq
	for k, v := range m.order {
		c.order[k] = v
	}
	for k, v := range m.policies {
		c.policies[k] = v
	}
	for k, v := range m.rules {
		c.rules[k] = v
	}
	for agency, days := range m.hours {
		copied := make(map[time.Weekday]domain.AgencyBusinessHour, len(days))
		for d, h := range days {
			copied[d] = h
		}
		c.hours[agency] = copied
	}
	for agency, dates := range m.overrides {
		copied := make(map[string]domain.BusinessCalendarOverride, len(dates))
		for d, o := range dates {
			copied[d] = o
		}
		c.overrides[agency] = copied
	}
	for k, v := range m.tracking {
		c.tracking[k] = v
	}
	for k, v := range m.byTicket {
		c.byTicket[k] = v
	}
	c.breaches = append([]domain.BreachLog(nil), m.breaches...)
	for k, v := range m.matrices {
		c.matrices[k] = v
	}
	for k, v := range m.levels {
		c.levels[k] = v
	}
	c.events = append([]domain.EscalationEvent(nil), m.events...)
	for k, v := range m.tickets {
		c.tickets[k] = v
	}
	return c
}

// newID allocates an id and remembers insertion order for tie-breaking.
func (m *memState) newID() string {
	id := uuid.NewString()
	m.seq++
	m.order[id] = m.seq
	return id
}

func memRepositories(db memAccess, now func() time.Time) Repositories {
	return Repositories{
		Policies:    &memPolicyRepository{db: db, now: now},
		Calendars:   &memCalendarRepository{db: db},
		Tracking:    &memTrackingRepository{db: db, now: now},
		Breaches:    &memBreachLogRepository{db: db, now: now},
		Escalations: &memEscalationRepository{db: db, now: now},
		Tickets:     &memTicketRepository{db: db},
	}
}

type memPolicyRepository struct {
	db  memAccess
	now func() time.Time
}

func (r *memPolicyRepository) CreatePolicy(_ context.Context, policy *domain.SLAPolicy) error {
	return r.db.update(func(m *memState) error {
		policy.ID = m.newID()
		if policy.CreatedAt.IsZero() {
			policy.CreatedAt = r.now()
		}
		policy.UpdatedAt = policy.CreatedAt
		m.policies[policy.ID] = *policy
		return nil
	})
}

func (r *memPolicyRepository) CreateRule(_ context.Context, rule *domain.SLARule) error {
	return r.db.update(func(m *memState) error {
		if _, ok := m.policies[rule.PolicyID]; !ok {
			return fmt.Errorf("policy %s: %w", rule.PolicyID, ErrNotFound)
		}
		rule.ID = m.newID()
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = r.now()
		}
		m.rules[rule.ID] = *rule
		return nil
	})
}

func (r *memPolicyRepository) GetActiveForAgency(_ context.Context, agencyID string) (*domain.SLAPolicy, error) {
	var found *domain.SLAPolicy
	err := r.db.view(func(m *memState) error {
		for _, p := range m.policies {
			if p.AgencyID != agencyID || !p.IsActive {
				continue
			}
			if found == nil || newer(m, p.ID, p.CreatedAt, found.ID, found.CreatedAt) {
				candidate := p
				found = &candidate
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memPolicyRepository) GetPolicy(_ context.Context, id string) (*domain.SLAPolicy, error) {
	var found *domain.SLAPolicy
	_ = r.db.view(func(m *memState) error {
		if p, ok := m.policies[id]; ok {
			found = &p
		}
		return nil
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memPolicyRepository) GetRule(_ context.Context, id string) (*domain.SLARule, error) {
	var found *domain.SLARule
	_ = r.db.view(func(m *memState) error {
		if rule, ok := m.rules[id]; ok {
			found = &rule
		}
		return nil
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memPolicyRepository) ListRules(_ context.Context, policyID string) ([]domain.SLARule, error) {
	var result []domain.SLARule
	_ = r.db.view(func(m *memState) error {
		for _, rule := range m.rules {
			if rule.PolicyID == policyID {
				result = append(result, rule)
			}
		}
		sort.Slice(result, func(i, j int) bool {
			return newer(m, result[j].ID, result[j].CreatedAt, result[i].ID, result[i].CreatedAt)
		})
		return nil
	})
	return result, nil
}

// newer reports whether record a was created after record b.
func newer(m *memState, aID string, aCreated time.Time, bID string, bCreated time.Time) bool {
	if !aCreated.Equal(bCreated) {
		return aCreated.After(bCreated)
	}
	return m.order[aID] > m.order[bID]
}

type memCalendarRepository struct {
	db memAccess
}

func (r *memCalendarRepository) ListBusinessHours(_ context.Context, agencyID string) ([]domain.AgencyBusinessHour, error) {
	var result []domain.AgencyBusinessHour
	_ = r.db.view(func(m *memState) error {
		for _, h := range m.hours[agencyID] {
			result = append(result, h)
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].DayOfWeek < result[j].DayOfWeek })
	return result, nil
}

func (r *memCalendarRepository) ListOverrides(_ context.Context, agencyID string, from, to time.Time) ([]domain.BusinessCalendarOverride, error) {
	lo, hi := domain.DateKey(from), domain.DateKey(to)
	var result []domain.BusinessCalendarOverride
	_ = r.db.view(func(m *memState) error {
		for key, o := range m.overrides[agencyID] {
			if key >= lo && key <= hi {
				result = append(result, o)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (r *memCalendarRepository) UpsertBusinessHour(_ context.Context, hour *domain.AgencyBusinessHour) error {
	return r.db.update(func(m *memState) error {
		days, ok := m.hours[hour.AgencyID]
		if !ok {
			days = make(map[time.Weekday]domain.AgencyBusinessHour)
			m.hours[hour.AgencyID] = days
		}
		days[hour.DayOfWeek] = *hour
		return nil
	})
}

func (r *memCalendarRepository) UpsertOverride(_ context.Context, override *domain.BusinessCalendarOverride) error {
	return r.db.update(func(m *memState) error {
		dates, ok := m.overrides[override.AgencyID]
		if !ok {
			dates = make(map[string]domain.BusinessCalendarOverride)
			m.overrides[override.AgencyID] = dates
		}
		dates[domain.DateKey(override.Date)] = *override
		return nil
	})
}

type memTrackingRepository struct {
	db  memAccess
	now func() time.Time
}

func (r *memTrackingRepository) Create(_ context.Context, tracking *domain.SLATracking) error {
	return r.db.update(func(m *memState) error {
		if _, exists := m.byTicket[tracking.TicketID]; exists {
			return ErrAlreadyExists
		}
		tracking.ID = m.newID()
		tracking.CreatedAt = r.now()
		tracking.UpdatedAt = tracking.CreatedAt
		m.tracking[tracking.ID] = *tracking
		m.byTicket[tracking.TicketID] = tracking.ID
		return nil
	})
}

func (r *memTrackingRepository) GetByID(_ context.Context, id string) (*domain.SLATracking, error) {
	var found *domain.SLATracking
	_ = r.db.view(func(m *memState) error {
		if t, ok := m.tracking[id]; ok {
			found = &t
		}
		return nil
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memTrackingRepository) GetByTicketID(ctx context.Context, ticketID string) (*domain.SLATracking, error) {
	var id string
	_ = r.db.view(func(m *memState) error {
		id = m.byTicket[ticketID]
		return nil
	})
	if id == "" {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *memTrackingRepository) ListDue(_ context.Context, now time.Time, limit int) ([]domain.TrackingCandidate, error) {
	var result []domain.TrackingCandidate
	_ = r.db.view(func(m *memState) error {
		for _, t := range m.tracking {
			ticket, ok := m.tickets[t.TicketID]
			if !ok {
				continue
			}
			if !needsEvaluation(&t, &ticket, now) {
				continue
			}
			result = append(result, m.candidate(t, ticket))
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		return earliestDue(&result[i].Tracking).Before(earliestDue(&result[j].Tracking))
	})
	return truncate(result, limit), nil
}

func (r *memTrackingRepository) ListFollowUps(_ context.Context, now time.Time, limit int) ([]domain.TrackingCandidate, error) {
	var result []domain.TrackingCandidate
	_ = r.db.view(func(m *memState) error {
		for _, t := range m.tracking {
			ticket, ok := m.tickets[t.TicketID]
			if !ok || !t.ResolutionBreached || ticket.ResolvedAt != nil || ticket.IsClosed() || t.LastEscalatedAt == nil {
				continue
			}
			candidate := m.candidate(t, ticket)
			if candidate.EscalateAfterMinutes == nil {
				continue
			}
			next := t.LastEscalatedAt.Add(time.Duration(*candidate.EscalateAfterMinutes) * time.Minute)
			if next.After(now) {
				continue
			}
			result = append(result, candidate)
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Tracking.LastEscalatedAt.Before(*result[j].Tracking.LastEscalatedAt)
	})
	return truncate(result, limit), nil
}

func (m *memState) candidate(t domain.SLATracking, ticket domain.TicketSnapshot) domain.TrackingCandidate {
	candidate := domain.TrackingCandidate{Tracking: t, Ticket: ticket}
	if rule, ok := m.rules[t.RuleID]; ok {
		candidate.EscalateAfterMinutes = rule.EscalateAfterMinutes
	}
	return candidate
}

func needsEvaluation(t *domain.SLATracking, ticket *domain.TicketSnapshot, now time.Time) bool {
	for _, bt := range domain.BreachTypes {
		if t.State(bt) != domain.CommitmentPending {
			continue
		}
		if ticket.QualifyingEventAt(bt) != nil {
			return true
		}
		if t.DueAt(bt).Before(now) && !ticket.IsClosed() {
			return true
		}
	}
	return false
}

func earliestDue(t *domain.SLATracking) time.Time {
	if t.ResponseDueAt.Before(t.ResolutionDueAt) {
		return t.ResponseDueAt
	}
	return t.ResolutionDueAt
}

func truncate(items []domain.TrackingCandidate, limit int) []domain.TrackingCandidate {
	limit = normalizeLimit(limit)
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func (r *memTrackingRepository) MarkMet(_ context.Context, id string, breachType domain.BreachType, at time.Time) (bool, error) {
	return r.transition(id, breachType, func(t *domain.SLATracking) { t.MarkMet(breachType, at) })
}

func (r *memTrackingRepository) MarkBreached(_ context.Context, id string, breachType domain.BreachType, at time.Time) (bool, error) {
	return r.transition(id, breachType, func(t *domain.SLATracking) { t.MarkBreached(breachType, at) })
}

func (r *memTrackingRepository) transition(id string, breachType domain.BreachType, apply func(*domain.SLATracking)) (bool, error) {
	if _, err := commitmentPrefix(breachType); err != nil {
		return false, err
	}
	applied := false
	err := r.db.update(func(m *memState) error {
		t, ok := m.tracking[id]
		if !ok || t.State(breachType) != domain.CommitmentPending {
			return nil
		}
		apply(&t)
		t.UpdatedAt = r.now()
		m.tracking[id] = t
		applied = true
		return nil
	})
	return applied, err
}

func (r *memTrackingRepository) AdvanceEscalation(_ context.Context, id string, from, to int, at time.Time) (bool, error) {
	applied := false
	err := r.db.update(func(m *memState) error {
		t, ok := m.tracking[id]
		if !ok || t.EscalationLevel != from {
			return nil
		}
		t.EscalationLevel = to
		t.LastEscalatedAt = &at
		t.UpdatedAt = r.now()
		m.tracking[id] = t
		applied = true
		return nil
	})
	return applied, err
}

type memBreachLogRepository struct {
	db  memAccess
	now func() time.Time
}

func (r *memBreachLogRepository) Create(_ context.Context, log *domain.BreachLog) error {
	return r.db.update(func(m *memState) error {
		for _, existing := range m.breaches {
			if existing.SLATrackingID == log.SLATrackingID && existing.BreachType == log.BreachType {
				return ErrAlreadyExists
			}
		}
		log.ID = m.newID()
		log.CreatedAt = r.now()
		m.breaches = append(m.breaches, *log)
		return nil
	})
}

func (r *memBreachLogRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.BreachLog, error) {
	var result []domain.BreachLog
	_ = r.db.view(func(m *memState) error {
		for _, log := range m.breaches {
			if log.TicketID == ticketID {
				result = append(result, log)
			}
		}
		return nil
	})
	return result, nil
}

type memEscalationRepository struct {
	db  memAccess
	now func() time.Time
}

func levelKey(matrixID string, levelNumber int) string {
	return fmt.Sprintf("%s#%d", matrixID, levelNumber)
}

func (r *memEscalationRepository) CreateMatrix(_ context.Context, matrix *domain.EscalationMatrix) error {
	return r.db.update(func(m *memState) error {
		matrix.ID = m.newID()
		if matrix.CreatedAt.IsZero() {
			matrix.CreatedAt = r.now()
		}
		m.matrices[matrix.ID] = *matrix
		return nil
	})
}

func (r *memEscalationRepository) CreateLevel(_ context.Context, level *domain.EscalationLevel) error {
	return r.db.update(func(m *memState) error {
		key := levelKey(level.MatrixID, level.LevelNumber)
		if _, exists := m.levels[key]; exists {
			return ErrAlreadyExists
		}
		level.ID = m.newID()
		m.levels[key] = *level
		return nil
	})
}

func (r *memEscalationRepository) FindMatrix(_ context.Context, agencyID string, priorityID *string) (*domain.EscalationMatrix, error) {
	var found *domain.EscalationMatrix
	_ = r.db.view(func(m *memState) error {
		for _, matrix := range m.matrices {
			if matrix.AgencyID != agencyID || !matrix.IsActive || !matrix.AutoEscalate {
				continue
			}
			scoped := matrix.PriorityID != nil
			if scoped && (priorityID == nil || *matrix.PriorityID != *priorityID) {
				continue
			}
			if found != nil {
				foundScoped := found.PriorityID != nil
				if foundScoped && !scoped {
					continue
				}
				if foundScoped == scoped && !newer(m, matrix.ID, matrix.CreatedAt, found.ID, found.CreatedAt) {
					continue
				}
			}
			candidate := matrix
			found = &candidate
		}
		return nil
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memEscalationRepository) GetLevel(_ context.Context, matrixID string, levelNumber int) (*domain.EscalationLevel, error) {
	var found *domain.EscalationLevel
	_ = r.db.view(func(m *memState) error {
		if level, ok := m.levels[levelKey(matrixID, levelNumber)]; ok {
			found = &level
		}
		return nil
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memEscalationRepository) CreateEvent(_ context.Context, event *domain.EscalationEvent) error {
	return r.db.update(func(m *memState) error {
		event.ID = m.newID()
		event.CreatedAt = r.now()
		m.events = append(m.events, *event)
		return nil
	})
}

func (r *memEscalationRepository) ListEventsByTicket(_ context.Context, ticketID string) ([]domain.EscalationEvent, error) {
	var result []domain.EscalationEvent
	_ = r.db.view(func(m *memState) error {
		for _, event := range m.events {
			if event.TicketID == ticketID {
				result = append(result, event)
			}
		}
		return nil
	})
	return result, nil
}

type memTicketRepository struct {
	db memAccess
}

func (r *memTicketRepository) GetSnapshot(_ context.Context, id string) (*domain.TicketSnapshot, error) {
	var found *domain.TicketSnapshot
	_ = r.db.view(func(m *memState) error {
		if t, ok := m.tickets[id]; ok {
			found = &t
		}
		return nil
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *memTicketRepository) MarkEscalated(_ context.Context, id string, level int) error {
	return r.db.update(func(m *memState) error {
		t, ok := m.tickets[id]
		if !ok {
			return ErrNotFound
		}
		t.IsEscalated = true
		if level > t.EscalationLevel {
			t.EscalationLevel = level
		}
		m.tickets[id] = t
		return nil
	})
}

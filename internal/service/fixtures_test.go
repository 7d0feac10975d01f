package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/calendar"
	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/events"
	"github.com/govdesk/sla-service/internal/repository"
)

const testAgency = "agency-1"

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

type fixture struct {
	t     *testing.T
	store *repository.MemoryStore
	now   time.Time

	mu        sync.Mutex
	published []events.Event

	dispatcher events.Dispatcher
	engine     *EscalationEngine
	tracking   *TrackingService
	detector   *BreachDetector
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	f := &fixture{t: t, store: repository.NewMemoryStore(), now: start}
	f.dispatcher = events.NewInMemoryDispatcher()
	for _, eventType := range events.AllEventTypes {
		f.dispatcher.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.published = append(f.published, e)
			return nil
		})
	}
	f.wire(f.store)
	return f
}

// wire builds the services on top of store, which may wrap the fixture's memory store.
func (f *fixture) wire(store repository.Store) {
	clock := func() time.Time { return f.now }
	calc := calendar.NewCalculator(store.Repos().Calendars, zap.NewNop())
	f.engine = NewEscalationEngine(EscalationDependencies{
		Store:      store,
		Dispatcher: f.dispatcher,
		Clock:      clock,
	})
	f.tracking = NewTrackingService(TrackingDependencies{
		Store:      store,
		Calculator: calc,
		Dispatcher: f.dispatcher,
		Clock:      clock,
	})
	f.detector = NewBreachDetector(DetectorDependencies{
		Store:      store,
		Escalation: f.engine,
		Dispatcher: f.dispatcher,
		Clock:      clock,
		BatchSize:  100,
		Workers:    4,
	})
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) policy(businessHours bool, rules ...domain.SLARule) *domain.SLAPolicy {
	f.t.Helper()
	ctx := context.Background()
	repo := f.store.Repos().Policies
	policy := &domain.SLAPolicy{AgencyID: testAgency, Name: "standard", IsActive: true, RespectBusinessHours: businessHours}
	require.NoError(f.t, repo.CreatePolicy(ctx, policy))
	for i := range rules {
		rules[i].PolicyID = policy.ID
		require.NoError(f.t, repo.CreateRule(ctx, &rules[i]))
	}
	return policy
}

func (f *fixture) matrix(priorityID *string, levels int) *domain.EscalationMatrix {
	f.t.Helper()
	ctx := context.Background()
	repo := f.store.Repos().Escalations
	matrix := &domain.EscalationMatrix{AgencyID: testAgency, PriorityID: priorityID, Name: "ladder", AutoEscalate: true, IsActive: true}
	require.NoError(f.t, repo.CreateMatrix(ctx, matrix))
	for n := 1; n <= levels; n++ {
		require.NoError(f.t, repo.CreateLevel(ctx, &domain.EscalationLevel{
			MatrixID:    matrix.ID,
			LevelNumber: n,
			RoleName:    []string{"", "supervisor", "manager", "director"}[n%4],
			NotifyEmail: true,
		}))
	}
	return matrix
}

func (f *fixture) ticket(id string, createdAt time.Time) domain.TicketSnapshot {
	ticket := domain.TicketSnapshot{ID: id, AgencyID: testAgency, Status: domain.TicketStatusOpen, CreatedAt: createdAt}
	f.store.PutTicket(ticket)
	return ticket
}

func (f *fixture) attach(ticket domain.TicketSnapshot) *domain.SLATracking {
	f.t.Helper()
	tracking, err := f.tracking.Attach(context.Background(), ticket)
	require.NoError(f.t, err)
	require.NotNil(f.t, tracking)
	return tracking
}

func (f *fixture) reload(trackingID string) *domain.SLATracking {
	f.t.Helper()
	tracking, err := f.store.Repos().Tracking.GetByID(context.Background(), trackingID)
	require.NoError(f.t, err)
	return tracking
}

func (f *fixture) breaches(ticketID string) []domain.BreachLog {
	f.t.Helper()
	logs, err := f.store.Repos().Breaches.ListByTicket(context.Background(), ticketID)
	require.NoError(f.t, err)
	return logs
}

func (f *fixture) escalations(ticketID string) []domain.EscalationEvent {
	f.t.Helper()
	evts, err := f.store.Repos().Escalations.ListEventsByTicket(context.Background(), ticketID)
	require.NoError(f.t, err)
	return evts
}

func (f *fixture) scan() ScanResult {
	f.t.Helper()
	result, err := f.detector.Scan(context.Background())
	require.NoError(f.t, err)
	return result
}

func (f *fixture) eventsOfType(eventType events.EventType) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.published {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

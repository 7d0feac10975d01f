package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/events"
	"github.com/govdesk/sla-service/internal/repository"
)

// Monday 2025-01-06 09:00 UTC.
var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func minutesAfter(base time.Time, n int) *time.Time {
	at := base.Add(time.Duration(n) * time.Minute)
	return &at
}

func standardRule() domain.SLARule {
	return domain.SLARule{ResponseTimeMinutes: 60, ResolutionTimeMinutes: 480, EscalateAfterMinutes: intPtr(60)}
}

func TestEvaluateCommitment(t *testing.T) {
	tracking := domain.SLATracking{ResponseDueAt: t0.Add(time.Hour), ResolutionDueAt: t0.Add(8 * time.Hour)}
	metTracking := tracking
	metTracking.MarkMet(domain.BreachTypeResponse, t0.Add(10*time.Minute))

	tests := []struct {
		name     string
		tracking domain.SLATracking
		ticket   domain.TicketSnapshot
		bt       domain.BreachType
		now      time.Time
		want     Transition
	}{
		{
			name:     "pending before due",
			tracking: tracking,
			ticket:   domain.TicketSnapshot{Status: domain.TicketStatusOpen},
			bt:       domain.BreachTypeResponse,
			now:      t0.Add(30 * time.Minute),
			want:     Transition{Kind: TransitionNone, BreachType: domain.BreachTypeResponse},
		},
		{
			name:     "response on time",
			tracking: tracking,
			ticket:   domain.TicketSnapshot{Status: domain.TicketStatusOpen, FirstResponseAt: minutesAfter(t0, 60)},
			bt:       domain.BreachTypeResponse,
			now:      t0.Add(2 * time.Hour),
			want:     Transition{Kind: TransitionMet, BreachType: domain.BreachTypeResponse, At: *minutesAfter(t0, 60)},
		},
		{
			name:     "late response breaches at the response instant",
			tracking: tracking,
			ticket:   domain.TicketSnapshot{Status: domain.TicketStatusOpen, FirstResponseAt: minutesAfter(t0, 75)},
			bt:       domain.BreachTypeResponse,
			now:      t0.Add(2 * time.Hour),
			want:     Transition{Kind: TransitionBreached, BreachType: domain.BreachTypeResponse, At: *minutesAfter(t0, 75), OverdueMinutes: 15},
		},
		{
			name:     "no response after due",
			tracking: tracking,
			ticket:   domain.TicketSnapshot{Status: domain.TicketStatusInProgress},
			bt:       domain.BreachTypeResponse,
			now:      t0.Add(61 * time.Minute),
			want:     Transition{Kind: TransitionBreached, BreachType: domain.BreachTypeResponse, At: t0.Add(61 * time.Minute), OverdueMinutes: 1},
		},
		{
			name:     "exactly at due is not a breach",
			tracking: tracking,
			ticket:   domain.TicketSnapshot{Status: domain.TicketStatusOpen},
			bt:       domain.BreachTypeResponse,
			now:      t0.Add(time.Hour),
			want:     Transition{Kind: TransitionNone, BreachType: domain.BreachTypeResponse},
		},
		{
			name:     "closed ticket without resolution",
			tracking: tracking,
			ticket:   domain.TicketSnapshot{Status: domain.TicketStatusCancelled},
			bt:       domain.BreachTypeResolution,
			now:      t0.Add(9 * time.Hour),
			want:     Transition{Kind: TransitionNone, BreachType: domain.BreachTypeResolution},
		},
		{
			name:     "terminal commitment is left alone",
			tracking: metTracking,
			ticket:   domain.TicketSnapshot{Status: domain.TicketStatusOpen},
			bt:       domain.BreachTypeResponse,
			now:      t0.Add(9 * time.Hour),
			want:     Transition{Kind: TransitionNone, BreachType: domain.BreachTypeResponse},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateCommitment(&tt.tracking, &tt.ticket, tt.bt, tt.now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScan_ResolutionBreachEscalatesToFirstLevel(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	f.matrix(nil, 2)
	ticket := f.ticket("ticket-1", t0)
	tracking := f.attach(ticket)
	assert.Equal(t, t0.Add(8*time.Hour), tracking.ResolutionDueAt)

	ticket.FirstResponseAt = minutesAfter(t0, 10)
	f.store.PutTicket(ticket)

	f.now = t0.Add(481 * time.Minute)
	result := f.scan()
	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, 1, result.Met)
	assert.Equal(t, 1, result.Breached)
	assert.Equal(t, 1, result.Escalated)
	assert.Zero(t, result.Failed)

	reloaded := f.reload(tracking.ID)
	assert.True(t, reloaded.ResponseMet)
	assert.False(t, reloaded.ResponseBreached)
	assert.True(t, reloaded.ResolutionBreached)
	assert.Equal(t, 1, reloaded.EscalationLevel)
	require.NotNil(t, reloaded.LastEscalatedAt)

	logs := f.breaches(ticket.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.BreachTypeResolution, logs[0].BreachType)
	assert.Equal(t, int64(1), logs[0].OverdueMinutes)

	escalations := f.escalations(ticket.ID)
	require.Len(t, escalations, 1)
	assert.Equal(t, 0, escalations[0].PreviousLevel)
	assert.Equal(t, 1, escalations[0].NewLevel)
	assert.Equal(t, domain.TriggeredBySystem, escalations[0].TriggeredBy)

	snapshot, err := f.store.Repos().Tickets.GetSnapshot(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.True(t, snapshot.IsEscalated)
	assert.Equal(t, 1, snapshot.EscalationLevel)

	assert.Len(t, f.eventsOfType(events.EventSLAMet), 1)
	assert.Len(t, f.eventsOfType(events.EventSLABreached), 1)
	escalated := f.eventsOfType(events.EventTicketEscalated)
	require.Len(t, escalated, 1)
	payload, ok := escalated[0].Payload.(events.TicketEscalatedPayload)
	require.True(t, ok)
	assert.Equal(t, 1, payload.NewLevel)
	assert.Equal(t, "supervisor", payload.RoleName)
}

func TestScan_IsIdempotent(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	f.matrix(nil, 3)
	ticket := f.ticket("ticket-1", t0)
	f.attach(ticket)

	f.now = t0.Add(481 * time.Minute)
	first := f.scan()
	assert.Equal(t, 2, first.Breached)

	second := f.scan()
	assert.Zero(t, second.Evaluated)
	assert.Zero(t, second.Breached)

	assert.Len(t, f.breaches(ticket.ID), 2)
	assert.Len(t, f.escalations(ticket.ID), 2)
	assert.Len(t, f.eventsOfType(events.EventSLABreached), 2)
}

func TestScan_ConcurrentPassesBreachOnce(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	f.matrix(nil, 5)
	for _, id := range []string{"ticket-1", "ticket-2", "ticket-3"} {
		f.attach(f.ticket(id, t0))
	}
	f.now = t0.Add(481 * time.Minute)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.detector.Scan(context.Background()); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)

	for _, id := range []string{"ticket-1", "ticket-2", "ticket-3"} {
		logs := f.breaches(id)
		assert.Len(t, logs, 2, id)
		escalations := f.escalations(id)
		require.Len(t, escalations, 2, id)
		assert.Equal(t, 1, escalations[0].NewLevel)
		assert.Equal(t, 2, escalations[1].NewLevel)
	}
}

func TestScan_OnTimeEventsNeverBreach(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	f.matrix(nil, 1)
	ticket := f.ticket("ticket-1", t0)
	tracking := f.attach(ticket)

	ticket.FirstResponseAt = minutesAfter(t0, 30)
	ticket.ResolvedAt = minutesAfter(t0, 400)
	ticket.Status = domain.TicketStatusResolved
	f.store.PutTicket(ticket)

	f.now = t0.Add(600 * time.Minute)
	result := f.scan()
	assert.Equal(t, 2, result.Met)
	assert.Zero(t, result.Breached)

	reloaded := f.reload(tracking.ID)
	assert.True(t, reloaded.ResponseMet)
	assert.True(t, reloaded.ResolutionMet)
	assert.False(t, reloaded.ResponseBreached)
	assert.False(t, reloaded.ResolutionBreached)
	require.NotNil(t, reloaded.ResolutionMetAt)
	assert.Equal(t, *ticket.ResolvedAt, *reloaded.ResolutionMetAt)
	assert.Empty(t, f.breaches(ticket.ID))
	assert.Empty(t, f.escalations(ticket.ID))
}

func TestScan_LateResolutionBreachesAtResolutionInstant(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	ticket := f.ticket("ticket-1", t0)
	tracking := f.attach(ticket)

	ticket.FirstResponseAt = minutesAfter(t0, 5)
	ticket.ResolvedAt = minutesAfter(t0, 500)
	ticket.Status = domain.TicketStatusResolved
	f.store.PutTicket(ticket)

	f.now = t0.Add(510 * time.Minute)
	f.scan()

	reloaded := f.reload(tracking.ID)
	assert.True(t, reloaded.ResponseMet)
	assert.True(t, reloaded.ResolutionBreached)
	require.NotNil(t, reloaded.ResolutionBreachedAt)
	assert.Equal(t, *ticket.ResolvedAt, *reloaded.ResolutionBreachedAt)

	logs := f.breaches(ticket.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(20), logs[0].OverdueMinutes)
	assert.Empty(t, f.escalations(ticket.ID), "no matrix configured")
	assert.Zero(t, reloaded.EscalationLevel)
}

func TestScan_ClosedTicketWithoutEventsStaysPending(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	ticket := f.ticket("ticket-1", t0)
	tracking := f.attach(ticket)

	ticket.Status = domain.TicketStatusClosed
	f.store.PutTicket(ticket)

	f.now = t0.Add(24 * time.Hour)
	result := f.scan()
	assert.Zero(t, result.Evaluated)

	reloaded := f.reload(tracking.ID)
	assert.Equal(t, domain.CommitmentPending, reloaded.State(domain.BreachTypeResponse))
	assert.Equal(t, domain.CommitmentPending, reloaded.State(domain.BreachTypeResolution))
}

func TestScan_ExhaustedMatrixStillRecordsBreach(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	f.matrix(nil, 1)
	ticket := f.ticket("ticket-1", t0)
	tracking := f.attach(ticket)

	f.now = t0.Add(481 * time.Minute)
	result := f.scan()
	assert.Equal(t, 2, result.Breached)
	assert.Equal(t, 1, result.Escalated)

	assert.Len(t, f.breaches(ticket.ID), 2)
	escalations := f.escalations(ticket.ID)
	require.Len(t, escalations, 1)
	assert.Equal(t, 1, escalations[0].NewLevel)
	assert.Equal(t, 1, f.reload(tracking.ID).EscalationLevel)
}

func TestScan_FollowUpEscalation(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	f.matrix(nil, 2)
	ticket := f.ticket("ticket-1", t0)
	ticket.FirstResponseAt = minutesAfter(t0, 10)
	f.store.PutTicket(ticket)
	tracking := f.attach(ticket)

	f.now = t0.Add(481 * time.Minute)
	f.scan()
	require.Equal(t, 1, f.reload(tracking.ID).EscalationLevel)

	f.advance(30 * time.Minute)
	result := f.scan()
	assert.Zero(t, result.FollowUps, "escalate_after has not elapsed")

	f.advance(30 * time.Minute)
	result = f.scan()
	assert.Equal(t, 1, result.FollowUps)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 2, f.reload(tracking.ID).EscalationLevel)

	f.advance(time.Hour)
	result = f.scan()
	assert.Equal(t, 1, result.FollowUps)
	assert.Zero(t, result.Escalated, "matrix exhausted")

	escalations := f.escalations(ticket.ID)
	require.Len(t, escalations, 2)
	assert.Equal(t, 1, escalations[1].PreviousLevel)
	assert.Equal(t, 2, escalations[1].NewLevel)
}

type failingTracking struct {
	repository.TrackingRepository
	failID string
}

func (f failingTracking) MarkBreached(ctx context.Context, id string, bt domain.BreachType, at time.Time) (bool, error) {
	if id == f.failID {
		return false, errors.New("disk full")
	}
	return f.TrackingRepository.MarkBreached(ctx, id, bt, at)
}

type failingStore struct {
	*repository.MemoryStore
	failID string
}

func (s failingStore) WithinTx(ctx context.Context, fn func(repository.Repositories) error) error {
	return s.MemoryStore.WithinTx(ctx, func(repos repository.Repositories) error {
		repos.Tracking = failingTracking{TrackingRepository: repos.Tracking, failID: s.failID}
		return fn(repos)
	})
}

func TestScan_RowFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	f.matrix(nil, 3)
	broken := f.attach(f.ticket("ticket-broken", t0))
	healthy := f.attach(f.ticket("ticket-healthy", t0))
	f.wire(failingStore{MemoryStore: f.store, failID: broken.ID})

	f.now = t0.Add(481 * time.Minute)
	result, err := f.detector.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Evaluated)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Breached)

	assert.Empty(t, f.breaches("ticket-broken"))
	assert.Equal(t, domain.CommitmentPending, f.reload(broken.ID).State(domain.BreachTypeResolution))
	assert.Len(t, f.breaches("ticket-healthy"), 2)
	assert.Equal(t, 2, f.reload(healthy.ID).EscalationLevel)
}

func TestScan_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, t0)
	f.policy(false, standardRule())
	f.attach(f.ticket("ticket-1", t0))
	f.now = t0.Add(481 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.detector.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.breaches("ticket-1"))
}

package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when a unique constraint rejects an insert.
var ErrAlreadyExists = errors.New("record already exists")

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories bundles every repository bound to the same connection or transaction.
type Repositories struct {
	Policies    PolicyRepository
	Calendars   CalendarRepository
	Tracking    TrackingRepository
	Breaches    BreachLogRepository
	Escalations EscalationRepository
	Tickets     TicketRepository
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	Repos() Repositories
	// WithinTx runs fn with repositories bound to a single transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}

// NewRepositories binds all repositories to db.
func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Policies:    NewPolicyRepository(db),
		Calendars:   NewCalendarRepository(db),
		Tracking:    NewTrackingRepository(db),
		Breaches:    NewBreachLogRepository(db),
		Escalations: NewEscalationRepository(db),
		Tickets:     NewTicketRepository(db),
	}
}

type postgresStore struct {
	pool  *pgxpool.Pool
	repos Repositories
}

// NewPostgresStore builds a Store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool, repos: NewRepositories(pool)}
}

func (s *postgresStore) Repos() Repositories {
	return s.repos
}

func (s *postgresStore) WithinTx(ctx context.Context, fn func(repos Repositories) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

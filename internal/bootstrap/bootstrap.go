// Package bootstrap wires the SLA service from configuration. The API server and the
// slactl CLI share it.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/auth"
	"github.com/govdesk/sla-service/internal/calendar"
	"github.com/govdesk/sla-service/internal/config"
	"github.com/govdesk/sla-service/internal/events"
	"github.com/govdesk/sla-service/internal/observability"
	"github.com/govdesk/sla-service/internal/persistence"
	"github.com/govdesk/sla-service/internal/repository"
	"github.com/govdesk/sla-service/internal/service"
)

// App holds the wired collaborators.
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Postgres      *persistence.Postgres
	Redis         *persistence.Redis
	Store         repository.Store
	Dispatcher    events.Dispatcher
	Calculator    *calendar.Calculator
	CalendarCache *calendar.CachedProvider
	Escalation    *service.EscalationEngine
	Detector      *service.BreachDetector
	Tracking      *service.TrackingService
	Notifications *service.NotificationService
	Tokens        *auth.TokenManager
}

// New connects to the configured backends and builds every service. Without a Postgres
// DSN the service runs on the in-memory store.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    observability.NewMetrics(),
		Dispatcher: events.NewInMemoryDispatcher(),
		Tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	app.Postgres = pg

	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				pg.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		app.Store = repository.NewPostgresStore(pool)
	} else {
		logger.Warn("using in-memory store; SLA state is lost on restart")
		app.Store = repository.NewMemoryStore()
	}

	app.Redis = persistence.NewRedis(cfg.Redis, logger)

	holidays, err := calendar.LoadHolidays(cfg.SLA.HolidaysFile)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load holidays: %w", err)
	}

	provider := calendar.NewCachedProvider(app.Store.Repos().Calendars, app.Redis.Handle(), cfg.SLA.CalendarCacheTTL, logger)
	if cached, ok := provider.(*calendar.CachedProvider); ok {
		app.CalendarCache = cached
	}
	app.Calculator = calendar.NewCalculator(provider, logger,
		calendar.WithLocation(cfg.SLA.Location()),
		calendar.WithHolidays(holidays),
		calendar.WithLookaheadDays(cfg.SLA.LookaheadDays),
		calendar.WithMaxIterations(cfg.SLA.MaxIterations),
		calendar.WithMetrics(app.Metrics),
	)

	app.Escalation = service.NewEscalationEngine(service.EscalationDependencies{
		Store:      app.Store,
		Dispatcher: app.Dispatcher,
		Logger:     logger.Named("escalation"),
		Metrics:    app.Metrics,
	})
	app.Detector = service.NewBreachDetector(service.DetectorDependencies{
		Store:      app.Store,
		Escalation: app.Escalation,
		Dispatcher: app.Dispatcher,
		Logger:     logger.Named("detector"),
		Metrics:    app.Metrics,
		BatchSize:  cfg.SLA.ScanBatchSize,
		Workers:    cfg.SLA.ScanWorkers,
	})
	app.Tracking = service.NewTrackingService(service.TrackingDependencies{
		Store:      app.Store,
		Calculator: app.Calculator,
		Dispatcher: app.Dispatcher,
		Logger:     logger.Named("tracking"),
		Metrics:    app.Metrics,
	})

	var sink service.EventSink
	if app.Redis.Handle() != nil {
		sink = app.Redis
	}
	app.Notifications = service.NewNotificationService(app.Dispatcher, sink, logger.Named("notifications"), cfg.Notification)

	return app, nil
}

// Close releases backend connections.
func (a *App) Close() {
	a.Redis.Close()
	a.Postgres.Close()
}

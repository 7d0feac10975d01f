package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/govdesk/sla-service/internal/api/http"
	"github.com/govdesk/sla-service/internal/api/http/handlers"
	"github.com/govdesk/sla-service/internal/auth"
	"github.com/govdesk/sla-service/internal/bootstrap"
	"github.com/govdesk/sla-service/internal/config"
	"github.com/govdesk/sla-service/internal/observability"
	"github.com/govdesk/sla-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sla, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to wire service", zap.Error(err))
	}
	defer sla.Close()

	worker.StartNotificationWorker(sla.Notifications, logger)

	var detector *worker.DetectorWorker
	if cfg.SLA.DetectorEnabled {
		detector, err = worker.NewDetectorWorker(sla.Detector, worker.DetectorOptions{
			Schedule: cfg.SLA.ScanSchedule,
			Location: cfg.SLA.Location(),
			Leaser:   sla.Redis,
			LeaseTTL: cfg.SLA.ScanLeaseTTL,
			Logger:   logger,
		})
		if err != nil {
			logger.Fatal("failed to build breach detector", zap.Error(err))
		}
		if err := detector.Start(ctx); err != nil {
			logger.Fatal("failed to start breach detector", zap.Error(err))
		}
	} else {
		logger.Warn("breach detector disabled")
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, sla.Metrics, cfg.App.RequestTimeout())

	checks := map[string]handlers.Pinger{}
	if sla.Postgres.PoolHandle() != nil {
		checks["postgres"] = sla.Postgres
	}
	if sla.Redis.Handle() != nil {
		checks["redis"] = sla.Redis
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, checks),
		SLA:            handlers.NewSLAHandler(sla.Tracking, sla.Detector),
		Metrics:        sla.Metrics.Handler(),
		AuthMiddleware: auth.NewAuthMiddleware(sla.Tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	if detector != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		detector.Stop(stopCtx)
		stop()
	}
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

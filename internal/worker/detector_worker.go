package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/observability"
	"github.com/govdesk/sla-service/internal/persistence"
	"github.com/govdesk/sla-service/internal/service"
)

// DefaultLeaseKey guards detector passes across replicas.
const DefaultLeaseKey = "sla:detector:lease"

// Scanner runs one breach detection pass.
type Scanner interface {
	Scan(ctx context.Context) (service.ScanResult, error)
}

// Leaser hands out exclusive, expiring leases.
type Leaser interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// DetectorOptions configures the detector worker.
type DetectorOptions struct {
	Schedule string
	Location *time.Location
	Leaser   Leaser
	LeaseKey string
	LeaseTTL time.Duration
	Logger   *zap.Logger
}

// DetectorWorker runs the breach detector on a cron schedule. Overlapping runs in one
// process are skipped; across processes a lease keeps passes from piling up.
type DetectorWorker struct {
	scanner  Scanner
	leaser   Leaser
	leaseKey string
	leaseTTL time.Duration
	logger   *zap.Logger
	cron     *cron.Cron
	schedule string

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error
}

// NewDetectorWorker validates the schedule and builds the worker.
func NewDetectorWorker(scanner Scanner, opts DetectorOptions) (*DetectorWorker, error) {
	if scanner == nil {
		return nil, errors.New("detector worker requires a scanner")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := opts.Location
	if location == nil {
		location = time.UTC
	}
	schedule := opts.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", schedule, err)
	}
	leaseKey := opts.LeaseKey
	if leaseKey == "" {
		leaseKey = DefaultLeaseKey
	}

	cronLogger := observability.CronLogger(logger)
	return &DetectorWorker{
		scanner:  scanner,
		leaser:   opts.Leaser,
		leaseKey: leaseKey,
		leaseTTL: opts.LeaseTTL,
		logger:   logger.Named("detector"),
		schedule: schedule,
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}, nil
}

// Start schedules the detector and returns immediately.
func (w *DetectorWorker) Start(ctx context.Context) error {
	w.startOnce.Do(func() {
		_, w.startErr = w.cron.AddFunc(w.schedule, func() {
			_, _ = w.RunOnce(ctx)
		})
		if w.startErr != nil {
			return
		}
		w.cron.Start()
		w.logger.Info("breach detector scheduled", zap.String("schedule", w.schedule))
	})
	return w.startErr
}

// Stop halts scheduling and waits for a running pass to finish or ctx to expire.
func (w *DetectorWorker) Stop(ctx context.Context) {
	w.stopOnce.Do(func() {
		done := w.cron.Stop()
		select {
		case <-done.Done():
		case <-ctx.Done():
			w.logger.Warn("breach detector did not stop in time")
		}
	})
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *DetectorWorker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	w.Stop(stopCtx)
	return nil
}

// RunOnce performs a single pass under the lease. It returns persistence.ErrLeaseHeld
// when another replica is already scanning. The pass itself has no deadline: a lease
// that expires mid-pass only lets another replica start an overlapping pass.
func (w *DetectorWorker) RunOnce(ctx context.Context) (service.ScanResult, error) {
	if w.leaser != nil {
		release, err := w.leaser.AcquireLease(ctx, w.leaseKey, w.leaseTTL)
		if errors.Is(err, persistence.ErrLeaseHeld) {
			w.logger.Debug("breach scan skipped; lease held elsewhere")
			return service.ScanResult{}, err
		}
		if err != nil {
			// Transitions are conditional updates, so a pass without the lease stays safe.
			w.logger.Warn("lease unavailable; scanning without it", zap.Error(err))
		} else {
			defer func() {
				if err := release(context.Background()); err != nil {
					w.logger.Warn("release detector lease", zap.Error(err))
				}
			}()
		}
	}

	result, err := w.scanner.Scan(ctx)
	if err != nil {
		w.logger.Error("breach scan failed", zap.Error(err))
	}
	return result, err
}

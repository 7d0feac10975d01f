package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/config"
	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/repository"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{JWTSecret: "secret", AccessTokenTTLMinutes: 5},
		SLA: config.SLAConfig{
			ScanBatchSize: 100,
			ScanWorkers:   2,
			LookaheadDays: 90,
			MaxIterations: 365,
			Timezone:      "UTC",
		},
	}
}

func TestNew_FallsBackToMemoryStore(t *testing.T) {
	app, err := New(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	_, ok := app.Store.(*repository.MemoryStore)
	assert.True(t, ok)
	assert.Nil(t, app.CalendarCache, "no redis, no cache")
	assert.NotNil(t, app.Detector)
	assert.NotNil(t, app.Tracking)
	assert.NotNil(t, app.Notifications)

	result, err := app.Detector.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Evaluated)
}

func TestNew_LoadsHolidays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recurring:\n  - name: New Year\n    month: 1\n    day: 1\n"), 0o600))

	cfg := memoryConfig()
	cfg.SLA.HolidaysFile = path
	app, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	store := app.Store.(*repository.MemoryStore)
	for d := time.Monday; d <= time.Friday; d++ {
		require.NoError(t, store.Repos().Calendars.UpsertBusinessHour(context.Background(), &domain.AgencyBusinessHour{
			AgencyID: "agency-1", DayOfWeek: d, StartTime: "08:00", EndTime: "17:00", IsActive: true,
		}))
	}

	// 2025-12-31 is a Wednesday; New Year's Day is skipped.
	start := time.Date(2025, 12, 31, 16, 0, 0, 0, time.UTC)
	due, err := app.Tracking.PreviewDueAt(context.Background(), "agency-1", start, 120, true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), due)
}

func TestNew_BadHolidayFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.SLA.HolidaysFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

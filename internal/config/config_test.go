package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SLA_SCAN_SCHEDULE", "")
	t.Setenv("SLA_TIMEZONE", "")
	t.Setenv("SLA_CALENDAR_CACHE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "@every 1m", cfg.SLA.ScanSchedule)
	assert.Equal(t, 90, cfg.SLA.LookaheadDays)
	assert.Equal(t, 365, cfg.SLA.MaxIterations)
	assert.Equal(t, 5*time.Minute, cfg.SLA.CalendarCacheTTL)
	assert.Equal(t, time.UTC, cfg.SLA.Location())
	assert.Equal(t, "migrations", cfg.Postgres.MigrationsDir)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SLA_SCAN_SCHEDULE", "*/2 * * * *")
	t.Setenv("SLA_SCAN_WORKERS", "8")
	t.Setenv("SLA_TIMEZONE", "Asia/Tehran")
	t.Setenv("SLA_SCAN_LEASE_TTL", "30s")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_NAME", "sla-east")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "*/2 * * * *", cfg.SLA.ScanSchedule)
	assert.Equal(t, 8, cfg.SLA.ScanWorkers)
	assert.Equal(t, "Asia/Tehran", cfg.SLA.Location().String())
	assert.Equal(t, 30*time.Second, cfg.SLA.ScanLeaseTTL)
	assert.Equal(t, "0.0.0.0:9090", cfg.App.Addr())
	assert.Equal(t, "sla-east", cfg.Logger.Service)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "redis db", key: "REDIS_DB", val: "zero"},
		{name: "cache ttl", key: "SLA_CALENDAR_CACHE_TTL", val: "soon"},
		{name: "time zone", key: "SLA_TIMEZONE", val: "Mars/Olympus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(0), AppConfig{RequestTimeoutSeconds: 0}.RequestTimeout())
	assert.Equal(t, 15*time.Second, AppConfig{RequestTimeoutSeconds: 15}.RequestTimeout())
}

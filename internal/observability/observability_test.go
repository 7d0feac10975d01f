package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/govdesk/sla-service/internal/config"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/", "GET", 200, time.Millisecond)
		m.RecordError("/", "GET", "X")
		m.RecordAttach("created")
		m.RecordTransition("RESPONSE", "MET")
		m.RecordEscalation("escalated")
		m.ObserveScan(time.Second, 3, 1)
		m.RecordDeadlineFallback("cap")
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordTransition("RESOLUTION", "BREACHED")
	m.RecordTransition("RESOLUTION", "BREACHED")
	m.RecordEscalation("exhausted")
	m.ObserveScan(2*time.Second, 5, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("RESOLUTION", "BREACHED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations.WithLabelValues("exhausted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.scanRows.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scanRows.WithLabelValues("failed")))
}

func TestRequestLoggerRecordsRoute(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := NewMetrics()

	app := fiber.New()
	app.Use(RequestLogger(zap.New(core), metrics))
	app.Get("/items/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	resp, err := app.Test(httptest.NewRequest("GET", "/items/42", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "request completed", entry.Message)
	assert.Equal(t, "/items/42", entry.ContextMap()["path"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("/items/:id", "GET", "204")))
}

func TestCronLoggerForwardsErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := CronLogger(zap.New(core))

	l.Info("schedule", "entry", 1)
	l.Error(errors.New("panic"), "job failed")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zap.ErrorLevel, logs.All()[1].Level)
	assert.Equal(t, "panic", logs.All()[1].ContextMap()["error"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "loud"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestLoggerConfigIsProduction(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.LoggerConfig
		wantService string
		wantVersion any
	}{
		{name: "named service", cfg: config.LoggerConfig{Level: "debug", Service: "sla-east", Version: "1.4.0"}, wantService: "sla-east", wantVersion: "1.4.0"},
		{name: "default service", cfg: config.LoggerConfig{}, wantService: "sla-service"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zapCfg := loggerConfig(tt.cfg)
			assert.False(t, zapCfg.Development)
			assert.Equal(t, "json", zapCfg.Encoding)
			assert.Equal(t, tt.wantService, zapCfg.InitialFields["service"])
			assert.Equal(t, tt.wantVersion, zapCfg.InitialFields["version"])
		})
	}
}

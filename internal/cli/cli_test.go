package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govdesk/sla-service/internal/auth"
	"github.com/govdesk/sla-service/internal/bootstrap"
	"github.com/govdesk/sla-service/internal/config"
	"github.com/govdesk/sla-service/internal/domain"
)

func testEnv() *env {
	return &env{
		loadConfig: func() (*config.Config, error) {
			return &config.Config{
				Logger: config.LoggerConfig{Level: "error"},
				Auth:   config.AuthConfig{JWTSecret: "cli-secret", AccessTokenTTLMinutes: 10},
				SLA:    config.SLAConfig{ScanBatchSize: 50, ScanWorkers: 1, LookaheadDays: 90, MaxIterations: 365},
			}, nil
		},
		newApp: bootstrap.New,
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(testEnv())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScanCommand(t *testing.T) {
	out, err := run(t, "scan")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.EqualValues(t, 0, result["evaluated"])
	assert.EqualValues(t, 0, result["failed"])
}

func TestDeadlineCommand(t *testing.T) {
	out, err := run(t, "deadline", "--agency", "agency-1", "--start", "2025-01-10T16:00:00Z", "--minutes", "120", "--business-hours=false")
	require.NoError(t, err)

	var result struct {
		DueAt time.Time `json:"due_at"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC), result.DueAt.UTC())

	_, err = run(t, "deadline", "--agency", "agency-1", "--start", "yesterday")
	assert.ErrorContains(t, err, "invalid --start")

	_, err = run(t, "deadline", "--agency", "agency-1", "--minutes", "200000000")
	assert.ErrorContains(t, err, "--minutes must be between 0 and")

	_, err = run(t, "deadline", "--minutes", "10")
	assert.Error(t, err, "agency is required")
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--subject", "ticket-service", "--role", "system")
	require.NoError(t, err)

	var result struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	claims, err := auth.NewTokenManager("cli-secret", 10).ParseToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "ticket-service", claims.SubjectID)
	assert.Equal(t, domain.ServiceRoleSystem, claims.Role)

	_, err = run(t, "token", "--subject", "x", "--role", "root")
	assert.ErrorContains(t, err, "unknown role")
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := run(t, "migrate")
	assert.ErrorContains(t, err, "POSTGRES_DSN")
}

func TestCalendarFlushWithoutCache(t *testing.T) {
	out, err := run(t, "calendar", "flush", "agency-1")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to flush")
}

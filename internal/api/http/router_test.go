package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/api/http/handlers"
	"github.com/govdesk/sla-service/internal/auth"
	"github.com/govdesk/sla-service/internal/calendar"
	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/events"
	"github.com/govdesk/sla-service/internal/observability"
	"github.com/govdesk/sla-service/internal/repository"
	"github.com/govdesk/sla-service/internal/service"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	app    *fiber.App
	store  *repository.MemoryStore
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T, checks map[string]handlers.Pinger) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	calc := calendar.NewCalculator(store.Repos().Calendars, zap.NewNop())
	engine := service.NewEscalationEngine(service.EscalationDependencies{Store: store, Dispatcher: dispatcher})
	detector := service.NewBreachDetector(service.DetectorDependencies{Store: store, Escalation: engine, Dispatcher: dispatcher, Workers: 2})
	tracking := service.NewTrackingService(service.TrackingDependencies{Store: store, Calculator: calc, Dispatcher: dispatcher})
	tokens := auth.NewTokenManager("router-secret", 5)

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("sla-service", "test", checks),
		SLA:            handlers.NewSLAHandler(tracking, detector),
		Metrics:        metrics.Handler(),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	return &testServer{app: app, store: store, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path string, role domain.ServiceRole, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		token, _, err := s.tokens.GenerateToken("tester", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func seedAgency(t *testing.T, store *repository.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	policy := &domain.SLAPolicy{AgencyID: "agency-1", Name: "default", IsActive: true}
	require.NoError(t, store.Repos().Policies.CreatePolicy(ctx, policy))
	require.NoError(t, store.Repos().Policies.CreateRule(ctx, &domain.SLARule{PolicyID: policy.ID, ResponseTimeMinutes: 60, ResolutionTimeMinutes: 480}))
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, map[string]handlers.Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	status, body := s.do(t, nethttp.MethodGet, "/health/live", "", "")
	assert.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, nethttp.MethodGet, "/health/ready", "", "")
	assert.Equal(t, nethttp.StatusServiceUnavailable, status)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "ok", details["postgres"])
	assert.Equal(t, "connection refused", details["redis"])

	req := httptest.NewRequest(nethttp.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "sla_http_requests_total")
}

func TestSLARoutes(t *testing.T) {
	s := newTestServer(t, nil)
	seedAgency(t, s.store)
	created := time.Now().UTC().Add(-10 * time.Hour).Truncate(time.Minute)
	s.store.PutTicket(domain.TicketSnapshot{ID: "ticket-1", AgencyID: "agency-1", Status: domain.TicketStatusOpen, CreatedAt: created})

	status, _ := s.do(t, nethttp.MethodPost, "/api/v1/sla/tickets/ticket-1/attach", "", "")
	assert.Equal(t, nethttp.StatusUnauthorized, status)

	status, _ = s.do(t, nethttp.MethodPost, "/api/v1/sla/tickets/ticket-1/attach", domain.ServiceRoleViewer, "")
	assert.Equal(t, nethttp.StatusForbidden, status)

	status, body := s.do(t, nethttp.MethodPost, "/api/v1/sla/tickets/ticket-1/attach", domain.ServiceRoleSystem, "")
	require.Equal(t, nethttp.StatusCreated, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["tracked"])
	assert.Equal(t, true, data["created"])

	status, body = s.do(t, nethttp.MethodPost, "/api/v1/sla/tickets/ticket-1/attach", domain.ServiceRoleSystem, "")
	require.Equal(t, nethttp.StatusOK, status, "repeat attach returns the existing row")
	assert.Equal(t, false, body["data"].(map[string]any)["created"])

	status, body = s.do(t, nethttp.MethodPost, "/api/v1/sla/tickets/missing/attach", domain.ServiceRoleSystem, "")
	assert.Equal(t, nethttp.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])

	status, body = s.do(t, nethttp.MethodGet, "/api/v1/sla/tickets/ticket-1", domain.ServiceRoleViewer, "")
	require.Equal(t, nethttp.StatusOK, status)
	resolution := body["data"].(map[string]any)["resolution"].(map[string]any)
	assert.Equal(t, "PENDING", resolution["state"])
	assert.Greater(t, resolution["overdue_minutes"].(float64), float64(0))

	status, _ = s.do(t, nethttp.MethodPost, "/api/v1/sla/scan", domain.ServiceRoleSystem, "")
	assert.Equal(t, nethttp.StatusForbidden, status)

	status, body = s.do(t, nethttp.MethodPost, "/api/v1/sla/scan", domain.ServiceRoleAdmin, "")
	require.Equal(t, nethttp.StatusOK, status)
	assert.EqualValues(t, 2, body["data"].(map[string]any)["breached"])

	status, body = s.do(t, nethttp.MethodGet, "/api/v1/sla/tickets/ticket-1/breaches", domain.ServiceRoleViewer, "")
	require.Equal(t, nethttp.StatusOK, status)
	assert.Len(t, body["data"], 2)

	status, body = s.do(t, nethttp.MethodGet, "/api/v1/sla/tickets/ticket-1/escalations", domain.ServiceRoleViewer, "")
	require.Equal(t, nethttp.StatusOK, status)
	assert.Empty(t, body["data"], "no escalation matrix configured")

	status, _ = s.do(t, nethttp.MethodGet, "/api/v1/sla/tickets/unknown", domain.ServiceRoleViewer, "")
	assert.Equal(t, nethttp.StatusNotFound, status)
}

func TestAttachWithoutPolicy(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.PutTicket(domain.TicketSnapshot{ID: "ticket-1", AgencyID: "agency-x", Status: domain.TicketStatusOpen, CreatedAt: time.Now().UTC()})

	status, body := s.do(t, nethttp.MethodPost, "/api/v1/sla/tickets/ticket-1/attach", domain.ServiceRoleSystem, "")
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, false, body["data"].(map[string]any)["tracked"])
}

func TestDeadlineRoute(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, nethttp.MethodPost, "/api/v1/sla/deadline", domain.ServiceRoleViewer,
		`{"agency_id":"agency-1","start":"2025-01-10T16:00:00Z","minutes":120,"business_hours":false}`)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "2025-01-10T18:00:00Z", body["data"].(map[string]any)["due_at"])

	status, body = s.do(t, nethttp.MethodPost, "/api/v1/sla/deadline", domain.ServiceRoleViewer, `{"minutes":10}`)
	assert.Equal(t, nethttp.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", body["error"].(map[string]any)["code"])

	status, body = s.do(t, nethttp.MethodPost, "/api/v1/sla/deadline", domain.ServiceRoleViewer,
		`{"agency_id":"agency-1","start":"2025-01-10T16:00:00Z","minutes":200000000,"business_hours":false}`)
	assert.Equal(t, nethttp.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", body["error"].(map[string]any)["code"])
}

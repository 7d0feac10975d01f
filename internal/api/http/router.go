package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/govdesk/sla-service/internal/api/http/handlers"
	"github.com/govdesk/sla-service/internal/auth"
	"github.com/govdesk/sla-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	SLA            *handlers.SLAHandler
	Metrics        http.Handler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	sla := app.Group("/api/v1/sla", cfg.AuthMiddleware.Handle)
	sla.Post("/tickets/:ticketId/attach", auth.RequireRole(domain.ServiceRoleSystem), cfg.SLA.Attach)
	sla.Get("/tickets/:ticketId", auth.RequireAnyRole(), cfg.SLA.Status)
	sla.Get("/tickets/:ticketId/breaches", auth.RequireAnyRole(), cfg.SLA.Breaches)
	sla.Get("/tickets/:ticketId/escalations", auth.RequireAnyRole(), cfg.SLA.Escalations)
	sla.Post("/deadline", auth.RequireAnyRole(), cfg.SLA.Deadline)
	sla.Post("/scan", auth.RequireRole(), cfg.SLA.Scan)
}

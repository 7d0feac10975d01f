package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/govdesk/sla-service/internal/domain"
)

// RequireRole ensures the caller holds one of the allowed roles. ADMIN is always allowed.
func RequireRole(allowed ...domain.ServiceRole) fiber.Handler {
	allowedSet := make(map[domain.ServiceRole]struct{}, len(allowed)+1)
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}
	allowedSet[domain.ServiceRoleAdmin] = struct{}{}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return fiber.NewError(http.StatusForbidden, "insufficient role")
		}
		return c.Next()
	}
}

// RequireAnyRole ensures the caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		return c.Next()
	}
}

package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/calendar"
	"github.com/govdesk/sla-service/internal/observability"
	"github.com/govdesk/sla-service/internal/repository"
	"github.com/govdesk/sla-service/internal/service"
	apperrors "github.com/govdesk/sla-service/pkg/util/errorutil"
)

// RegisterMiddlewares installs request ids, request logging, the per-request deadline and
// error rendering. The logger wraps the error middleware so it sees the final status.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestid.New())
	app.Use(observability.RequestLogger(logger, metrics))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// classifyError turns service and store sentinels into API errors. Anything else goes
// through the generic mapping.
func classifyError(err error) *apperrors.DomainError {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	mapped := func(code, message string, status int) *apperrors.DomainError {
		return &apperrors.DomainError{Code: code, Message: message, HTTPStatus: status, Err: err}
	}
	switch {
	case errors.Is(err, service.ErrNoActivePolicy):
		return mapped("NO_ACTIVE_POLICY", "agency has no active SLA policy", nethttp.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrNoMatchingRule):
		return mapped("NO_MATCHING_RULE", "SLA policy has no applicable rule", nethttp.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrEscalationConflict):
		return mapped("ESCALATION_CONFLICT", "escalation level changed concurrently; retry", nethttp.StatusConflict)
	case errors.Is(err, calendar.ErrMinutesOutOfRange):
		return mapped("VALIDATION_FAILED", err.Error(), nethttp.StatusBadRequest)
	case errors.Is(err, repository.ErrNotFound):
		return mapped("NOT_FOUND", "resource not found", nethttp.StatusNotFound)
	case errors.Is(err, repository.ErrAlreadyExists):
		return mapped("CONFLICT", "resource already exists", nethttp.StatusConflict)
	case errors.Is(err, context.DeadlineExceeded):
		return mapped("TIMEOUT", "request deadline exceeded", nethttp.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		return mapped("REQUEST_CANCELLED", "request cancelled", nethttp.StatusServiceUnavailable)
	}
	return apperrors.ToDomainError(err)
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Path()),
					zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err == nil {
				return
			}

			domainErr := classifyError(err)
			requestID := c.GetRespHeader(fiber.HeaderXRequestID)
			metrics.RecordError(c.Path(), c.Method(), domainErr.Code)

			body := fiber.Map{
				"code":    domainErr.Code,
				"message": domainErr.Message,
			}
			if len(domainErr.Details) > 0 {
				body["details"] = domainErr.Details
			}
			if requestID != "" {
				body["request_id"] = requestID
			}

			fields := []zap.Field{
				zap.String("code", domainErr.Code),
				zap.String("path", c.Path()),
				zap.String("request_id", requestID),
				zap.Error(err),
			}
			switch {
			case domainErr.HTTPStatus >= nethttp.StatusInternalServerError:
				logger.Error("request failed", fields...)
			case domainErr.HTTPStatus == nethttp.StatusConflict:
				logger.Warn("request conflicted", fields...)
			}

			c.Status(domainErr.HTTPStatus)
			_ = c.JSON(fiber.Map{"error": body})
			err = nil
		}()
		return c.Next()
	}
}

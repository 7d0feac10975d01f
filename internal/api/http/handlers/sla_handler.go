package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/govdesk/sla-service/internal/api/dto"
	"github.com/govdesk/sla-service/internal/calendar"
	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/repository"
	"github.com/govdesk/sla-service/internal/service"
	apperrors "github.com/govdesk/sla-service/pkg/util/errorutil"
)

// Scanner runs one detector pass on demand.
type Scanner interface {
	Scan(ctx context.Context) (service.ScanResult, error)
}

// SLAHandler exposes SLA tracking endpoints.
type SLAHandler struct {
	tracking *service.TrackingService
	scanner  Scanner
}

// NewSLAHandler constructs handler.
func NewSLAHandler(tracking *service.TrackingService, scanner Scanner) *SLAHandler {
	return &SLAHandler{tracking: tracking, scanner: scanner}
}

// Attach POST /api/v1/sla/tickets/:ticketId/attach.
func (h *SLAHandler) Attach(c *fiber.Ctx) error {
	ticketID := strings.TrimSpace(c.Params("ticketId"))
	if ticketID == "" {
		return apperrors.NewValidationError("ticket id required", nil)
	}
	tracking, created, err := h.tracking.AttachTicket(c.UserContext(), ticketID)
	if err != nil {
		return mapNotFound(err, "ticket", ticketID)
	}
	if tracking == nil {
		return c.JSON(fiber.Map{"data": dto.AttachResponse{Tracked: false}})
	}
	resp := trackingResponse(tracking)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.AttachResponse{Tracked: true, Created: created, Tracking: &resp}})
}

// Status GET /api/v1/sla/tickets/:ticketId.
func (h *SLAHandler) Status(c *fiber.Ctx) error {
	ticketID := c.Params("ticketId")
	status, err := h.tracking.Status(c.UserContext(), ticketID)
	if err != nil {
		return mapNotFound(err, "sla_tracking", ticketID)
	}
	return c.JSON(fiber.Map{"data": dto.StatusResponse{
		Tracking:      trackingResponse(&status.Tracking),
		Response:      commitmentResponse(status.Live.Response),
		Resolution:    commitmentResponse(status.Live.Resolution),
		BusinessHours: status.BusinessHours,
		ComputedAt:    status.Live.ComputedAt,
	}})
}

// Breaches GET /api/v1/sla/tickets/:ticketId/breaches.
func (h *SLAHandler) Breaches(c *fiber.Ctx) error {
	logs, err := h.tracking.ListBreaches(c.UserContext(), c.Params("ticketId"))
	if err != nil {
		return err
	}
	items := make([]dto.BreachResponse, 0, len(logs))
	for _, log := range logs {
		items = append(items, dto.BreachResponse{
			ID:             log.ID,
			TrackingID:     log.SLATrackingID,
			BreachType:     log.BreachType,
			BreachedAt:     log.BreachedAt,
			OverdueMinutes: log.OverdueMinutes,
			CreatedAt:      log.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// Escalations GET /api/v1/sla/tickets/:ticketId/escalations.
func (h *SLAHandler) Escalations(c *fiber.Ctx) error {
	history, err := h.tracking.ListEscalations(c.UserContext(), c.Params("ticketId"))
	if err != nil {
		return err
	}
	items := make([]dto.EscalationResponse, 0, len(history))
	for _, e := range history {
		items = append(items, dto.EscalationResponse{
			ID:            e.ID,
			TrackingID:    e.SLATrackingID,
			LevelID:       e.LevelID,
			PreviousLevel: e.PreviousLevel,
			NewLevel:      e.NewLevel,
			Reason:        e.Reason,
			TriggeredBy:   e.TriggeredBy,
			CreatedAt:     e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// Scan POST /api/v1/sla/scan.
func (h *SLAHandler) Scan(c *fiber.Ctx) error {
	if h.scanner == nil {
		return fiber.NewError(http.StatusServiceUnavailable, "breach detector not configured")
	}
	result, err := h.scanner.Scan(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ScanResponse{
		Evaluated:  result.Evaluated,
		Met:        result.Met,
		Breached:   result.Breached,
		Escalated:  result.Escalated,
		FollowUps:  result.FollowUps,
		Failed:     result.Failed,
		DurationMS: result.Duration.Milliseconds(),
	}})
}

// Deadline POST /api/v1/sla/deadline.
func (h *SLAHandler) Deadline(c *fiber.Ctx) error {
	var req dto.DeadlineRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.AgencyID) == "" || req.Start.IsZero() {
		return apperrors.NewValidationError("agency_id and start required", nil)
	}
	if req.Minutes < 0 || req.Minutes > calendar.MaxMinutes {
		return apperrors.NewValidationError("minutes out of range",
			map[string]any{"minutes": req.Minutes, "max": calendar.MaxMinutes})
	}
	due, err := h.tracking.PreviewDueAt(c.UserContext(), req.AgencyID, req.Start, req.Minutes, req.BusinessHours)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.DeadlineResponse{
		AgencyID:      req.AgencyID,
		Start:         req.Start,
		Minutes:       req.Minutes,
		BusinessHours: req.BusinessHours,
		DueAt:         due,
	}})
}

func mapNotFound(err error, resource, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	return err
}

func trackingResponse(t *domain.SLATracking) dto.TrackingResponse {
	return dto.TrackingResponse{
		ID:                   t.ID,
		TicketID:             t.TicketID,
		PolicyID:             t.PolicyID,
		RuleID:               t.RuleID,
		ResponseDueAt:        t.ResponseDueAt,
		ResolutionDueAt:      t.ResolutionDueAt,
		ResponseMet:          t.ResponseMet,
		ResponseMetAt:        t.ResponseMetAt,
		ResponseBreached:     t.ResponseBreached,
		ResponseBreachedAt:   t.ResponseBreachedAt,
		ResolutionMet:        t.ResolutionMet,
		ResolutionMetAt:      t.ResolutionMetAt,
		ResolutionBreached:   t.ResolutionBreached,
		ResolutionBreachedAt: t.ResolutionBreachedAt,
		EscalationLevel:      t.EscalationLevel,
		LastEscalatedAt:      t.LastEscalatedAt,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func commitmentResponse(s domain.CommitmentStatus) dto.CommitmentResponse {
	return dto.CommitmentResponse{
		State:            s.State,
		DueAt:            s.DueAt,
		RemainingMinutes: s.RemainingMinutes,
		OverdueMinutes:   s.OverdueMinutes,
		SettledAt:        s.SettledAt,
	}
}

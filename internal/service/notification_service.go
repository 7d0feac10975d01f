package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/config"
	"github.com/govdesk/sla-service/internal/events"
)

// EventSink appends an event to an external stream consumed by the notification and
// audit collaborators.
type EventSink interface {
	PublishEvent(ctx context.Context, stream string, maxLen int64, fields map[string]any) error
}

// NotificationService forwards SLA events to collaborators.
type NotificationService struct {
	dispatcher events.Dispatcher
	sink       EventSink
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service. sink may be nil, in which case events are
// only logged.
func NewNotificationService(dispatcher events.Dispatcher, sink EventSink, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		sink:       sink,
		logger:     loggerOrNop(logger),
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventSLAAttached, n.handleAttached)
	n.dispatcher.Subscribe(events.EventSLAMet, n.handleMet)
	n.dispatcher.Subscribe(events.EventSLABreached, n.handleBreached)
	n.dispatcher.Subscribe(events.EventTicketEscalated, n.handleEscalated)
}

func (n *NotificationService) handleAttached(ctx context.Context, event events.Event) error {
	n.logger.Debug("SLAAttached", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return n.forward(ctx, event)
}

func (n *NotificationService) handleMet(ctx context.Context, event events.Event) error {
	n.logger.Debug("SLAMet", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return n.forward(ctx, event)
}

func (n *NotificationService) handleBreached(ctx context.Context, event events.Event) error {
	n.logger.Info("SLABreached", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return n.forward(ctx, event)
}

func (n *NotificationService) handleEscalated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketEscalated", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return n.forward(ctx, event)
}

// ForwardTarget returns the stream events are appended to, or "" when they are only logged.
func (n *NotificationService) ForwardTarget() string {
	if n.sink == nil || !n.cfg.ForwardEnabled {
		return ""
	}
	return strings.TrimSpace(n.cfg.EventStream)
}

func (n *NotificationService) forward(ctx context.Context, event events.Event) error {
	stream := n.ForwardTarget()
	if stream == "" {
		return nil
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Type, err)
	}
	fields := map[string]any{
		"id":         event.ID,
		"type":       string(event.Type),
		"ticket_id":  event.TicketID,
		"actor_type": event.Actor.Type,
		"timestamp":  event.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload":    string(payload),
	}
	if err := n.sink.PublishEvent(ctx, stream, n.cfg.StreamMaxLen, fields); err != nil {
		n.logger.Warn("forward event failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
		return fmt.Errorf("forward %s: %w", event.Type, err)
	}
	return nil
}

package worker

import (
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/service"
)

// StartNotificationWorker subscribes the forwarder to SLA events. Delivery happens on the
// publishing goroutine, so nothing needs to be stopped on shutdown.
func StartNotificationWorker(notifications *service.NotificationService, logger *zap.Logger) {
	if notifications == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	notifications.RegisterHandlers()

	if stream := notifications.ForwardTarget(); stream != "" {
		logger.Info("forwarding SLA events", zap.String("stream", stream))
		return
	}
	logger.Info("SLA event forwarding off; events are logged only")
}

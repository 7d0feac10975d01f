package observability

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type cronLogger struct {
	logger *zap.SugaredLogger
}

// CronLogger adapts zap to the logger interface of robfig/cron.
func CronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{logger: logger.Named("cron").Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/govdesk/sla-service/internal/config"
)

// NewLogger builds the production JSON logger. Every entry carries the service identity.
func NewLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	return loggerConfig(cfg).Build()
}

func loggerConfig(cfg config.LoggerConfig) zap.Config {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.MessageKey = "message"
	encoder.TimeKey = "ts"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig = encoder
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.InitialFields = map[string]interface{}{}

	service := cfg.Service
	if service == "" {
		service = "sla-service"
	}
	zapCfg.InitialFields["service"] = service
	if cfg.Version != "" {
		zapCfg.InitialFields["version"] = cfg.Version
	}
	if cfg.Env != "" {
		zapCfg.InitialFields["env"] = cfg.Env
	}
	return zapCfg
}

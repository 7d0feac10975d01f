// Package cli implements the slactl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/bootstrap"
	"github.com/govdesk/sla-service/internal/config"
	"github.com/govdesk/sla-service/internal/observability"
)

// Version is stamped at build time.
var Version = "dev"

// env loads configuration and wires the service for a command.
type env struct {
	loadConfig func() (*config.Config, error)
	newApp     func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*bootstrap.App, error)
}

func defaultEnv() *env {
	return &env{loadConfig: config.Load, newApp: bootstrap.New}
}

func (e *env) logger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// withApp runs fn against a fully wired service and releases it afterwards.
func (e *env) withApp(ctx context.Context, fn func(*bootstrap.App) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := e.logger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := e.newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

// NewRootCmd builds the slactl command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultEnv())
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "slactl",
		Short: "Operate the SLA service",
		Long: `slactl runs SLA maintenance tasks against the configured database:
one-off breach detector passes, deadline previews, schema migrations
and service tokens for collaborating services.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		scanCmd(e),
		deadlineCmd(e),
		migrateCmd(e),
		tokenCmd(e),
		calendarCmd(e),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

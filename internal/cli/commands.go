package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/govdesk/sla-service/internal/api/dto"
	"github.com/govdesk/sla-service/internal/auth"
	"github.com/govdesk/sla-service/internal/bootstrap"
	"github.com/govdesk/sla-service/internal/calendar"
	"github.com/govdesk/sla-service/internal/domain"
	"github.com/govdesk/sla-service/internal/persistence"
)

func scanCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one breach detector pass",
		Long: `Evaluate every due SLA commitment once, record breaches and escalate.
Safe to run next to the API server: every transition is conditional.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd.Context(), func(app *bootstrap.App) error {
				result, err := app.Detector.Scan(cmd.Context())
				if err != nil {
					return fmt.Errorf("scan: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), dto.ScanResponse{
					Evaluated:  result.Evaluated,
					Met:        result.Met,
					Breached:   result.Breached,
					Escalated:  result.Escalated,
					FollowUps:  result.FollowUps,
					Failed:     result.Failed,
					DurationMS: result.Duration.Milliseconds(),
				})
			})
		},
	}
}

func deadlineCmd(e *env) *cobra.Command {
	var (
		agencyID      string
		start         string
		minutes       int
		businessHours bool
	)
	cmd := &cobra.Command{
		Use:   "deadline",
		Short: "Compute a due instant for an agency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startAt := time.Now().UTC()
			if start != "" {
				parsed, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				startAt = parsed
			}
			if minutes < 0 || minutes > calendar.MaxMinutes {
				return fmt.Errorf("--minutes must be between 0 and %d", calendar.MaxMinutes)
			}
			return e.withApp(cmd.Context(), func(app *bootstrap.App) error {
				due, err := app.Tracking.PreviewDueAt(cmd.Context(), agencyID, startAt, minutes, businessHours)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), dto.DeadlineResponse{
					AgencyID:      agencyID,
					Start:         startAt,
					Minutes:       minutes,
					BusinessHours: businessHours,
					DueAt:         due,
				})
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "Agency id (required)")
	cmd.Flags().StringVar(&start, "start", "", "Start instant in RFC3339, defaults to now")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "Duration in minutes")
	cmd.Flags().BoolVar(&businessHours, "business-hours", true, "Count only the agency's working time")
	_ = cmd.MarkFlagRequired("agency")
	return cmd
}

func migrateCmd(e *env) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Postgres.DSN == "" {
				return errors.New("POSTGRES_DSN is required")
			}
			logger, err := e.logger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pg.Close()

			if dir == "" {
				dir = cfg.Postgres.MigrationsDir
			}
			if err := persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), dir, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations in %s applied\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Migrations directory, defaults to POSTGRES_MIGRATIONS_DIR")
	return cmd
}

func tokenCmd(e *env) *cobra.Command {
	var (
		subject string
		role    string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token",
		Long: `Issue a bearer token for a collaborating service. The ticket service uses a
SYSTEM token to attach tracking; dashboards use VIEWER.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			serviceRole := domain.ServiceRole(strings.ToUpper(role))
			if !serviceRole.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(subject, serviceRole)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"token":      token,
				"subject":    subject,
				"role":       serviceRole,
				"expires_at": expiresAt.UTC(),
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Calling service name (required)")
	cmd.Flags().StringVar(&role, "role", string(domain.ServiceRoleSystem), "SYSTEM, ADMIN or VIEWER")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func calendarCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Manage cached agency calendars",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "flush <agency-id>",
		Short: "Drop the cached business hours and overrides of an agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd.Context(), func(app *bootstrap.App) error {
				if app.CalendarCache == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "calendar cache disabled; nothing to flush")
					return nil
				}
				if err := app.CalendarCache.Invalidate(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("flush calendar cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "calendar cache for %s flushed\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

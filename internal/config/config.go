package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	SLA          SLAConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level   string
	Service string
	Version string
	Env     string
}

// AuthConfig defines service token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// SLAConfig tunes deadline computation and the breach detector.
type SLAConfig struct {
	ScanSchedule     string
	ScanBatchSize    int
	ScanWorkers      int
	LookaheadDays    int
	MaxIterations    int
	Timezone         string
	HolidaysFile     string
	CalendarCacheTTL time.Duration
	ScanLeaseTTL     time.Duration
	DetectorEnabled  bool
}

// NotificationConfig configures forwarding of SLA events to collaborators.
type NotificationConfig struct {
	EventStream    string
	StreamMaxLen   int64
	ForwardEnabled bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cacheTTL, err := time.ParseDuration(getEnv("SLA_CALENDAR_CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SLA_CALENDAR_CACHE_TTL: %w", err)
	}
	leaseTTL, err := time.ParseDuration(getEnv("SLA_SCAN_LEASE_TTL", "55s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SLA_SCAN_LEASE_TTL: %w", err)
	}

	timezone := getEnv("SLA_TIMEZONE", "UTC")
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("invalid SLA_TIMEZONE: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "sla-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		SLA: SLAConfig{
			ScanSchedule:     getEnv("SLA_SCAN_SCHEDULE", "@every 1m"),
			ScanBatchSize:    getEnvAsInt("SLA_SCAN_BATCH_SIZE", 500),
			ScanWorkers:      getEnvAsInt("SLA_SCAN_WORKERS", 4),
			LookaheadDays:    getEnvAsInt("SLA_LOOKAHEAD_DAYS", 90),
			MaxIterations:    getEnvAsInt("SLA_MAX_ITERATIONS", 365),
			Timezone:         timezone,
			HolidaysFile:     os.Getenv("SLA_HOLIDAYS_FILE"),
			CalendarCacheTTL: cacheTTL,
			ScanLeaseTTL:     leaseTTL,
			DetectorEnabled:  getEnvAsBool("SLA_DETECTOR_ENABLED", true),
		},
		Notification: NotificationConfig{
			EventStream:    getEnv("SLA_EVENT_STREAM", "sla:events"),
			StreamMaxLen:   int64(getEnvAsInt("SLA_EVENT_STREAM_MAXLEN", 10000)),
			ForwardEnabled: getEnvAsBool("SLA_EVENT_FORWARD", true),
		},
	}
	cfg.Logger.Service = cfg.App.Name
	cfg.Logger.Version = cfg.App.Version
	cfg.Logger.Env = cfg.App.Env

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Location resolves the configured SLA time zone, defaulting to UTC.
func (s SLAConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil || s.Timezone == "" {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

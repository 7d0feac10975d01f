package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/config"
)

// ErrLeaseHeld is returned when another process owns a lease.
var ErrLeaseHeld = errors.New("lease held by another process")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis wraps the go-redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if !cfg.Enabled {
		logger.Warn("redis disabled; caching, leases and event forwarding are off")
		return &Redis{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Handle returns the client or nil when Redis is not configured.
func (r *Redis) Handle() *redis.Client {
	if r == nil {
		return nil
	}
	return r.Client
}

// AcquireLease takes a short-lived exclusive lease on key. The returned release function
// only deletes the key while this process still owns it.
func (r *Redis) AcquireLease(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if r == nil || r.Client == nil {
		return func(context.Context) error { return nil }, nil
	}
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, r.Client, []string{key}, token).Err()
	}, nil
}

// PublishEvent appends an event to a capped Redis stream.
func (r *Redis) PublishEvent(ctx context.Context, stream string, maxLen int64, fields map[string]any) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: fields,
	}).Err()
}

package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/domain"
)

// Provider is the read-only source of an agency's working hours and date overrides.
type Provider interface {
	ListBusinessHours(ctx context.Context, agencyID string) ([]domain.AgencyBusinessHour, error)
	ListOverrides(ctx context.Context, agencyID string, from, to time.Time) ([]domain.BusinessCalendarOverride, error)
}

const cacheKeyPrefix = "sla:calendar:"

// CachedProvider is a read-through Redis cache in front of another Provider. Cache
// failures are logged and the lookup goes to the underlying provider.
type CachedProvider struct {
	next   Provider
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedProvider wraps next with a cache. Without a client or TTL it returns next.
func NewCachedProvider(next Provider, client *redis.Client, ttl time.Duration, logger *zap.Logger) Provider {
	if client == nil || ttl <= 0 {
		return next
	}
	return &CachedProvider{next: next, client: client, ttl: ttl, logger: logger}
}

func (p *CachedProvider) ListBusinessHours(ctx context.Context, agencyID string) ([]domain.AgencyBusinessHour, error) {
	key := fmt.Sprintf("%s%s:hours", cacheKeyPrefix, agencyID)
	return readThrough(ctx, p, key, func() ([]domain.AgencyBusinessHour, error) {
		return p.next.ListBusinessHours(ctx, agencyID)
	})
}

func (p *CachedProvider) ListOverrides(ctx context.Context, agencyID string, from, to time.Time) ([]domain.BusinessCalendarOverride, error) {
	key := fmt.Sprintf("%s%s:overrides:%s:%s", cacheKeyPrefix, agencyID, domain.DateKey(from), domain.DateKey(to))
	return readThrough(ctx, p, key, func() ([]domain.BusinessCalendarOverride, error) {
		return p.next.ListOverrides(ctx, agencyID, from, to)
	})
}

// Invalidate drops every cached entry of an agency.
func (p *CachedProvider) Invalidate(ctx context.Context, agencyID string) error {
	iter := p.client.Scan(ctx, 0, fmt.Sprintf("%s%s:*", cacheKeyPrefix, agencyID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return p.client.Del(ctx, keys...).Err()
}

func readThrough[T any](ctx context.Context, p *CachedProvider, key string, load func() ([]T, error)) ([]T, error) {
	raw, err := p.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []T
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
		p.logger.Warn("discarding malformed calendar cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		p.logger.Warn("calendar cache read failed", zap.String("key", key), zap.Error(err))
	}

	items, err := load()
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(items); err == nil {
		if err := p.client.Set(ctx, key, payload, p.ttl).Err(); err != nil {
			p.logger.Debug("calendar cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return items, nil
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickar/cal/v2"
	"go.uber.org/zap"

	"github.com/govdesk/sla-service/internal/observability"
)

const (
	// DefaultLookaheadDays bounds the override range loaded for one computation.
	DefaultLookaheadDays = 90
	// DefaultMaxIterations caps the day walk so that calendars without working days
	// still terminate.
	DefaultMaxIterations = 365
	// MaxMinutes is the longest duration a deadline may span (ten years).
	MaxMinutes = 10 * 366 * 24 * 60
)

// ErrMinutesOutOfRange is returned for durations above MaxMinutes.
var ErrMinutesOutOfRange = errors.New("minutes out of range")

// Calculator computes due instants in calendar or business time.
type Calculator struct {
	provider      Provider
	holidays      *cal.BusinessCalendar
	loc           *time.Location
	lookaheadDays int
	maxIterations int
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithLocation sets the time zone in which working hours are interpreted.
func WithLocation(loc *time.Location) Option {
	return func(c *Calculator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithHolidays registers public holidays that are non-working unless overridden.
func WithHolidays(holidays *cal.BusinessCalendar) Option {
	return func(c *Calculator) {
		c.holidays = holidays
	}
}

// WithLookaheadDays sets how far past the start instant overrides are loaded.
func WithLookaheadDays(days int) Option {
	return func(c *Calculator) {
		if days > 0 {
			c.lookaheadDays = days
		}
	}
}

// WithMaxIterations sets the day walk cap.
func WithMaxIterations(n int) Option {
	return func(c *Calculator) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithMetrics counts calendar-time fallbacks.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Calculator) {
		c.metrics = metrics
	}
}

// NewCalculator creates a calculator reading agency calendars from provider.
func NewCalculator(provider Provider, logger *zap.Logger, opts ...Option) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Calculator{
		provider:      provider,
		loc:           time.UTC,
		lookaheadDays: DefaultLookaheadDays,
		maxIterations: DefaultMaxIterations,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DueAt returns start plus minutes. With businessHours set, only the agency's working
// time counts; if the agency has no usable hours or the walk hits the iteration cap the
// result falls back to calendar time.
func (c *Calculator) DueAt(ctx context.Context, start time.Time, minutes int, businessHours bool, agencyID string) (time.Time, error) {
	if minutes > MaxMinutes {
		return time.Time{}, fmt.Errorf("%w: %d exceeds %d", ErrMinutesOutOfRange, minutes, MaxMinutes)
	}
	calendarDue := start.Add(time.Duration(minutes) * time.Minute)
	if !businessHours || minutes <= 0 {
		return calendarDue, nil
	}

	schedule, err := c.LoadSchedule(ctx, agencyID, start, start.AddDate(0, 0, c.lookaheadDays))
	if err != nil {
		return time.Time{}, err
	}
	if rejected := schedule.Rejected(); len(rejected) > 0 {
		c.logger.Warn("ignoring unusable business hours",
			zap.String("agency_id", agencyID),
			zap.Strings("entries", rejected))
	}
	if !schedule.HasWorkingHours() {
		msg := "agency has no business hours; using calendar time"
		if len(schedule.Rejected()) > 0 {
			msg = "agency has no usable business hours; using calendar time"
		}
		c.logger.Warn(msg, zap.String("agency_id", agencyID))
		c.metrics.RecordDeadlineFallback("no_hours")
		return calendarDue, nil
	}

	due, ok := schedule.AddMinutes(start, minutes, c.maxIterations)
	if !ok {
		c.logger.Warn("business day walk hit iteration cap; using calendar time",
			zap.String("agency_id", agencyID),
			zap.Int("minutes", minutes),
			zap.Int("max_iterations", c.maxIterations))
		c.metrics.RecordDeadlineFallback("iteration_cap")
		return calendarDue, nil
	}
	return due, nil
}

// BusinessMinutesBetween counts the agency's working minutes in [from, to). Ranges longer
// than the iteration cap are truncated.
func (c *Calculator) BusinessMinutesBetween(ctx context.Context, agencyID string, from, to time.Time) (int64, error) {
	if !to.After(from) {
		return 0, nil
	}
	schedule, err := c.LoadSchedule(ctx, agencyID, from, to)
	if err != nil {
		return 0, err
	}
	minutes, _ := schedule.MinutesBetween(from, to, c.maxIterations)
	return minutes, nil
}

// LoadSchedule fetches the weekly hours and the overrides dated within [from, to].
func (c *Calculator) LoadSchedule(ctx context.Context, agencyID string, from, to time.Time) (*Schedule, error) {
	hours, err := c.provider.ListBusinessHours(ctx, agencyID)
	if err != nil {
		return nil, fmt.Errorf("load business hours: %w", err)
	}
	overrides, err := c.provider.ListOverrides(ctx, agencyID, from.In(c.loc), to.In(c.loc))
	if err != nil {
		return nil, fmt.Errorf("load calendar overrides: %w", err)
	}
	return NewSchedule(hours, overrides, c.holidays, c.loc), nil
}

// Location is the configured SLA time zone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

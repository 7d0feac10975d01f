package repository

import (
	"context"
	"time"

	"github.com/govdesk/sla-service/internal/domain"
)

// CalendarRepository reads agency working hours and date overrides.
type CalendarRepository interface {
	ListBusinessHours(ctx context.Context, agencyID string) ([]domain.AgencyBusinessHour, error)
	ListOverrides(ctx context.Context, agencyID string, from, to time.Time) ([]domain.BusinessCalendarOverride, error)
	UpsertBusinessHour(ctx context.Context, hour *domain.AgencyBusinessHour) error
	UpsertOverride(ctx context.Context, override *domain.BusinessCalendarOverride) error
}

type calendarRepository struct {
	db DBTX
}

// NewCalendarRepository instantiates repository.
func NewCalendarRepository(db DBTX) CalendarRepository {
	return &calendarRepository{db: db}
}

func (r *calendarRepository) ListBusinessHours(ctx context.Context, agencyID string) ([]domain.AgencyBusinessHour, error) {
	const query = `
        SELECT agency_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), is_active
        FROM agency_business_hours WHERE agency_id=$1
        ORDER BY day_of_week`
	rows, err := r.db.Query(ctx, query, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AgencyBusinessHour
	for rows.Next() {
		var (
			hour domain.AgencyBusinessHour
			day  int16
		)
		if err := rows.Scan(&hour.AgencyID, &day, &hour.StartTime, &hour.EndTime, &hour.IsActive); err != nil {
			return nil, err
		}
		hour.DayOfWeek = time.Weekday(day)
		result = append(result, hour)
	}
	return result, rows.Err()
}

func (r *calendarRepository) ListOverrides(ctx context.Context, agencyID string, from, to time.Time) ([]domain.BusinessCalendarOverride, error) {
	const query = `
        SELECT agency_id, override_date, is_working_day,
               to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), reason
        FROM business_calendar_overrides
        WHERE agency_id=$1 AND override_date BETWEEN $2::date AND $3::date
        ORDER BY override_date`
	rows, err := r.db.Query(ctx, query, agencyID, domain.DateKey(from), domain.DateKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.BusinessCalendarOverride
	for rows.Next() {
		var override domain.BusinessCalendarOverride
		if err := rows.Scan(
			&override.AgencyID,
			&override.Date,
			&override.IsWorkingDay,
			&override.StartTime,
			&override.EndTime,
			&override.Reason,
		); err != nil {
			return nil, err
		}
		result = append(result, override)
	}
	return result, rows.Err()
}

func (r *calendarRepository) UpsertBusinessHour(ctx context.Context, hour *domain.AgencyBusinessHour) error {
	const query = `
        INSERT INTO agency_business_hours (agency_id, day_of_week, start_time, end_time, is_active)
        VALUES ($1,$2,$3::time,$4::time,$5)
        ON CONFLICT (agency_id, day_of_week)
        DO UPDATE SET start_time=EXCLUDED.start_time, end_time=EXCLUDED.end_time, is_active=EXCLUDED.is_active`
	_, err := r.db.Exec(ctx, query, hour.AgencyID, int16(hour.DayOfWeek), hour.StartTime, hour.EndTime, hour.IsActive)
	return err
}

func (r *calendarRepository) UpsertOverride(ctx context.Context, override *domain.BusinessCalendarOverride) error {
	const query = `
        INSERT INTO business_calendar_overrides (agency_id, override_date, is_working_day, start_time, end_time, reason)
        VALUES ($1,$2::date,$3,$4::time,$5::time,$6)
        ON CONFLICT (agency_id, override_date)
        DO UPDATE SET is_working_day=EXCLUDED.is_working_day, start_time=EXCLUDED.start_time,
            end_time=EXCLUDED.end_time, reason=EXCLUDED.reason`
	_, err := r.db.Exec(ctx, query,
		override.AgencyID,
		domain.DateKey(override.Date),
		override.IsWorkingDay,
		override.StartTime,
		override.EndTime,
		override.Reason,
	)
	return err
}

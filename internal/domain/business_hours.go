package domain

import "time"

// AgencyBusinessHour is the working window of an agency for one day of the week.
// StartTime and EndTime use the "15:04" layout.
type AgencyBusinessHour struct {
	AgencyID  string       `json:"agency_id"`
	DayOfWeek time.Weekday `json:"day_of_week"`
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time"`
	IsActive  bool         `json:"is_active"`
}

// BusinessCalendarOverride replaces the weekly hours for a single calendar date.
type BusinessCalendarOverride struct {
	AgencyID     string    `json:"agency_id"`
	Date         time.Time `json:"date"`
	IsWorkingDay bool      `json:"is_working_day"`
	StartTime    *string   `json:"start_time,omitempty"`
	EndTime      *string   `json:"end_time,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// DateKey formats a calendar date the way overrides are indexed.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

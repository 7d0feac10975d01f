package calendar

import (
	"fmt"
	"os"
	"time"

	"github.com/rickar/cal/v2"
	"gopkg.in/yaml.v3"
)

// HolidayFile is the YAML layout of the public holiday list:
//
//	recurring:
//	  - {name: New Year, month: 1, day: 1}
//	one_time:
//	  - {name: Election Day, date: "2025-06-13"}
type HolidayFile struct {
	Recurring []RecurringHoliday `yaml:"recurring"`
	OneTime   []OneTimeHoliday   `yaml:"one_time"`
}

// RecurringHoliday falls on the same month and day every year.
type RecurringHoliday struct {
	Name  string `yaml:"name"`
	Month int    `yaml:"month"`
	Day   int    `yaml:"day"`
}

// OneTimeHoliday applies to a single date.
type OneTimeHoliday struct {
	Name string `yaml:"name"`
	Date string `yaml:"date"`
}

// LoadHolidays reads a holiday file. An empty path yields no holidays.
func LoadHolidays(path string) (*cal.BusinessCalendar, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holidays: %w", err)
	}
	return ParseHolidays(data)
}

// ParseHolidays builds a calendar holding the public holidays described by data.
func ParseHolidays(data []byte) (*cal.BusinessCalendar, error) {
	var file HolidayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse holidays: %w", err)
	}

	c := cal.NewBusinessCalendar()
	for _, h := range file.Recurring {
		if h.Month < 1 || h.Month > 12 || h.Day < 1 || h.Day > 31 {
			return nil, fmt.Errorf("holiday %q: invalid month/day %d/%d", h.Name, h.Month, h.Day)
		}
		c.AddHoliday(&cal.Holiday{
			Name:  h.Name,
			Type:  cal.ObservancePublic,
			Month: time.Month(h.Month),
			Day:   h.Day,
			Func:  cal.CalcDayOfMonth,
		})
	}
	for _, h := range file.OneTime {
		date, err := time.Parse("2006-01-02", h.Date)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h.Name, err)
		}
		c.AddHoliday(&cal.Holiday{
			Name:      h.Name,
			Type:      cal.ObservancePublic,
			Month:     date.Month(),
			Day:       date.Day(),
			Func:      cal.CalcDayOfMonth,
			StartYear: date.Year(),
			EndYear:   date.Year(),
		})
	}
	return c, nil
}

package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod is returned when a year/month/day combination does not name a period.
var ErrInvalidPeriod = errors.New("invalid period")

// PeriodType is the granularity of a summary bucket.
type PeriodType string

const (
	PeriodAll   PeriodType = "all"
	PeriodYear  PeriodType = "year"
	PeriodMonth PeriodType = "month"
	PeriodDay   PeriodType = "day"
)

// Placeholder values used in start_day for the parts a period doesn't specify.
const (
	startDayYear  = 1900
	startDayMonth = 1
	startDayDay   = 1
)

// Period identifies one bucket of the all > year > month > day hierarchy.
// The zero value is the all-time period.
type Period struct {
	typ   PeriodType
	year  int
	month time.Month
	day   int
}

// AllTime returns the period covering every dataset of a product.
func AllTime() Period {
	return Period{typ: PeriodAll}
}

// Year returns the period for a calendar year.
func Year(year int) Period {
	return Period{typ: PeriodYear, year: year}
}

// Month returns the period for a calendar month.
func Month(year int, month time.Month) Period {
	return Period{typ: PeriodMonth, year: year, month: month}
}

// Day returns the period for a single calendar day.
func Day(year int, month time.Month, day int) Period {
	return Period{typ: PeriodDay, year: year, month: month, day: day}
}

// ParsePeriod builds a Period from optional year, month and day parts.
// A part may only be present when every coarser part is present.
func ParsePeriod(year, month, day *int) (Period, error) {
	switch {
	case year == nil && (month != nil || day != nil):
		return Period{}, fmt.Errorf("%w: month or day given without a year", ErrInvalidPeriod)
	case month == nil && day != nil:
		return Period{}, fmt.Errorf("%w: day given without a month", ErrInvalidPeriod)
	case year == nil:
		return AllTime(), nil
	}

	if *year < 1 || *year > 9999 {
		return Period{}, fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, *year)
	}
	if month == nil {
		return Year(*year), nil
	}

	if *month < 1 || *month > 12 {
		return Period{}, fmt.Errorf("%w: month %d out of range", ErrInvalidPeriod, *month)
	}
	if day == nil {
		return Month(*year, time.Month(*month)), nil
	}

	p := Day(*year, time.Month(*month), *day)
	// time.Date normalises overflow (Feb 30 -> Mar 2), so round-trip to detect it.
	d := time.Date(*year, time.Month(*month), *day, 0, 0, 0, 0, time.UTC)
	if *day < 1 || d.Day() != *day || d.Month() != time.Month(*month) {
		return Period{}, fmt.Errorf("%w: day %d out of range for %04d-%02d", ErrInvalidPeriod, *day, *year, *month)
	}
	return p, nil
}

// Type returns the period granularity.
func (p Period) Type() PeriodType {
	if p.typ == "" {
		return PeriodAll
	}
	return p.typ
}

func (p Period) YearValue() int         { return p.year }
func (p Period) MonthValue() time.Month { return p.month }
func (p Period) DayValue() int          { return p.day }

// StartDay is the storage key date of the period. Parts the period doesn't
// specify are filled with 1900, January and 1.
func (p Period) StartDay() time.Time {
	year, month, day := startDayYear, time.Month(startDayMonth), startDayDay
	switch p.Type() {
	case PeriodDay:
		year, month, day = p.year, p.month, p.day
	case PeriodMonth:
		year, month = p.year, p.month
	case PeriodYear:
		year = p.year
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TimeRange returns [start, end) of the period in the given location.
// All-time periods are unbounded and return false.
func (p Period) TimeRange(loc *time.Location) (TimeRange, bool) {
	if loc == nil {
		loc = time.UTC
	}
	var start, end time.Time
	switch p.Type() {
	case PeriodDay:
		start = time.Date(p.year, p.month, p.day, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 1)
	case PeriodMonth:
		start = time.Date(p.year, p.month, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	case PeriodYear:
		start = time.Date(p.year, time.January, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(1, 0, 0)
	default:
		return TimeRange{}, false
	}
	return TimeRange{Begin: start, End: end}, true
}

// Children returns the stored periods a year or all-time summary is summed from.
// Months and days have no stored children.
func (p Period) Children(earliest, latest *time.Time) []Period {
	switch p.Type() {
	case PeriodYear:
		months := make([]Period, 0, 12)
		for m := time.January; m <= time.December; m++ {
			months = append(months, Month(p.year, m))
		}
		return months
	case PeriodAll:
		if earliest == nil || latest == nil {
			return nil
		}
		var years []Period
		for y := earliest.Year(); y <= latest.Year(); y++ {
			years = append(years, Year(y))
		}
		return years
	}
	return nil
}

// TimelineGrain is the bucket width used for a directly computed timeline histogram.
func (p Period) TimelineGrain() PeriodType {
	if p.Type() == PeriodAll {
		return PeriodMonth
	}
	return PeriodDay
}

func (p Period) String() string {
	switch p.Type() {
	case PeriodDay:
		return fmt.Sprintf("%04d-%02d-%02d", p.year, p.month, p.day)
	case PeriodMonth:
		return fmt.Sprintf("%04d-%02d", p.year, p.month)
	case PeriodYear:
		return fmt.Sprintf("%04d", p.year)
	}
	return "all"
}

// TimeRange is a half-open [Begin, End) interval.
type TimeRange struct {
	Begin time.Time `json:"begin" yaml:"begin"`
	End   time.Time `json:"end" yaml:"end"`
}

// Contains reports whether t falls within the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Begin) && t.Before(r.End)
}

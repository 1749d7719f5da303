// Package calendar answers business-day and business-hour questions over a
// CalendarConfig. All functions are pure: callers supply the clock.
package calendar

import (
	"time"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
)

// maxDayWalk bounds NextBusinessDay/PreviousBusinessDay. A calendar that
// excludes every day within this horizon is a configuration error; the walk
// degrades to a one-day step rather than spinning.
const maxDayWalk = 14

// IsBusinessDay reports whether date is a business day under cfg. A disabled
// calendar treats every day as a business day.
func IsBusinessDay(date domain.Date, cfg domain.CalendarConfig) bool {
	if !cfg.Enabled {
		return true
	}
	if !cfg.IsWorkDay(date.Weekday()) {
		return false
	}
	if cfg.ExcludeHolidays && cfg.IsHoliday(date) {
		return false
	}
	return true
}

// NextBusinessDay returns the first business day strictly after date. When no
// business day exists within the walk bound it returns date+1 and exhausted=true.
func NextBusinessDay(date domain.Date, cfg domain.CalendarConfig) (next domain.Date, exhausted bool) {
	candidate := date
	for i := 0; i < maxDayWalk; i++ {
		candidate = candidate.AddDays(1)
		if IsBusinessDay(candidate, cfg) {
			return candidate, false
		}
	}
	return date.AddDays(1), true
}

// PreviousBusinessDay mirrors NextBusinessDay walking backwards.
func PreviousBusinessDay(date domain.Date, cfg domain.CalendarConfig) (prev domain.Date, exhausted bool) {
	candidate := date
	for i := 0; i < maxDayWalk; i++ {
		candidate = candidate.AddDays(-1)
		if IsBusinessDay(candidate, cfg) {
			return candidate, false
		}
	}
	return date.AddDays(-1), true
}

// BusinessDaysInMonth counts business days in the given month.
func BusinessDaysInMonth(year int, month time.Month, cfg domain.CalendarConfig) int {
	count := 0
	last := domain.DaysInMonth(year, month)
	for day := 1; day <= last; day++ {
		if IsBusinessDay(domain.Date{Year: year, Month: month, Day: day}, cfg) {
			count++
		}
	}
	return count
}

// RemainingBusinessDaysInMonth counts business days from today through month end,
// today included.
func RemainingBusinessDaysInMonth(cfg domain.CalendarConfig, today domain.Date) int {
	count := 0
	last := domain.DaysInMonth(today.Year, today.Month)
	for day := today.Day; day <= last; day++ {
		if IsBusinessDay(domain.Date{Year: today.Year, Month: today.Month, Day: day}, cfg) {
			count++
		}
	}
	return count
}

// IsWithinBusinessHours reports whether now falls inside the configured window,
// inclusive on both ends, evaluated in the configured timezone. Always true for
// a disabled calendar.
func IsWithinBusinessHours(cfg domain.CalendarConfig, now time.Time) bool {
	if !cfg.Enabled {
		return true
	}
	local := now.In(cfg.BusinessHours.Location())
	minute := local.Hour()*60 + local.Minute()
	return minute >= cfg.BusinessHours.StartMinute && minute <= cfg.BusinessHours.EndMinute
}

// NextProcessingTime resolves the earliest moment processing is allowed at or
// after now. A disabled calendar allows processing immediately.
func NextProcessingTime(cfg domain.CalendarConfig, now time.Time) time.Time {
	if !cfg.Enabled {
		return now
	}

	loc := cfg.BusinessHours.Location()
	local := now.In(loc)
	today := domain.DateOf(local)
	minute := local.Hour()*60 + local.Minute()

	if IsBusinessDay(today, cfg) {
		if minute >= cfg.BusinessHours.StartMinute && minute <= cfg.BusinessHours.EndMinute {
			return now
		}
		if minute < cfg.BusinessHours.StartMinute {
			return today.At(cfg.BusinessHours.StartMinute, loc)
		}
	}

	next, _ := NextBusinessDay(today, cfg)
	return next.At(cfg.BusinessHours.StartMinute, loc)
}

package core

import "time"

// Calendar bucketing. All windows are anchored at "local midnight":
// midnight in a fixed UTC-offset timezone, expressed as a UTC instant.
// An offset of +3 means local midnight is 21:00 UTC of the previous
// calendar day.
//
// Day, week and month windows are half-open [start, end); the 30-day
// window is inclusive on both ends. The asymmetry is deliberate and
// covered by tests.

// LocalMidnight returns the offset-adjusted midnight of the calendar
// day that contains date.
func LocalMidnight(date time.Time, offsetHours int) time.Time {
	y, m, d := date.Year(), date.Month(), date.Day()
	return time.Date(y, m, d, -offsetHours, 0, 0, 0, time.UTC)
}

// DayRange returns the half-open window [start, start+24h) covering the
// calendar day of date in the given offset.
func DayRange(date time.Time, offsetHours int) (start, end time.Time) {
	start = LocalMidnight(date, offsetHours)
	return start, start.AddDate(0, 0, 1)
}

// WeekDays lists the local-midnight days of the running week, most
// recent first. It walks backward from the day after date: the first
// day is included when it is a Sunday, then every day down to and
// including Monday. The list therefore spans Monday through the day
// after date, and holds exactly seven days when the day after date is a
// Sunday.
func WeekDays(date time.Time, offsetHours int) []time.Time {
	var days []time.Time
	current := LocalMidnight(date.AddDate(0, 0, 1), offsetHours)
	if current.Weekday() == time.Sunday {
		days = append(days, current)
		current = current.AddDate(0, 0, -1)
	}
	for current.Weekday() >= time.Monday {
		days = append(days, current)
		current = current.AddDate(0, 0, -1)
	}
	return days
}

// MonthDays lists the local-midnight days of date's calendar month,
// most recent first, walking backward from the day after date while the
// month stays constant. When the day after date rolls into the next
// month the list is empty; callers pass a reference inside the month.
func MonthDays(date time.Time, offsetHours int) []time.Time {
	month := date.Month()
	var days []time.Time
	current := LocalMidnight(date.AddDate(0, 0, 1), offsetHours)
	for current.Month() == month {
		days = append(days, current)
		current = current.AddDate(0, 0, -1)
	}
	return days
}

// ThirtyDayRange returns the inclusive window [date-30d, date].
func ThirtyDayRange(date time.Time) (start, end time.Time) {
	return date.AddDate(0, 0, -30), date
}

// MonthBounds returns the half-open [start, end) window of a calendar
// month: the first instants of the month and of the next one, in UTC.
func MonthBounds(year int, month time.Month) (start, end time.Time) {
	start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

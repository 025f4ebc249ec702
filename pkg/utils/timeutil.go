package utils

import (
	"fmt"
	"time"
)

// JST is the Japan Standard Time location (UTC+9).
var JST *time.Location

func init() {
	var err error
	JST, err = time.LoadLocation("Asia/Tokyo")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		JST = time.FixedZone("JST", 9*60*60)
	}
}

// NowJST returns the current time in JST.
func NowJST() time.Time {
	return time.Now().In(JST)
}

// ToJST converts a time.Time to JST.
func ToJST(t time.Time) time.Time {
	return t.In(JST)
}

// Day truncates a time to midnight JST of the same calendar day.
func Day(t time.Time) time.Time {
	d := t.In(JST)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, JST)
}

// SameDay reports whether two times fall on the same JST calendar day.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// DaysBetween returns the whole-day difference to − from of the two
// JST calendar days. Negative when to precedes from.
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}

// MarketOpenTime returns the TSE morning session open (9:00 AM JST) for a given date.
func MarketOpenTime(date time.Time) time.Time {
	d := date.In(JST)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 0, 0, 0, JST)
}

// MarketCloseTime returns the TSE afternoon session close (3:30 PM JST) for a given date.
func MarketCloseTime(date time.Time) time.Time {
	d := date.In(JST)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, JST)
}

// LunchBreakStart returns the end of the TSE morning session (11:30 AM JST).
func LunchBreakStart(date time.Time) time.Time {
	d := date.In(JST)
	return time.Date(d.Year(), d.Month(), d.Day(), 11, 30, 0, 0, JST)
}

// LunchBreakEnd returns the start of the TSE afternoon session (12:30 PM JST).
func LunchBreakEnd(date time.Time) time.Time {
	d := date.In(JST)
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 30, 0, 0, JST)
}

// IsMarketOpen checks if the TSE is currently in session.
func IsMarketOpen() bool {
	return IsMarketOpenAt(NowJST())
}

// IsWeekend reports whether the given time falls on a Saturday or
// Sunday in JST.
func IsWeekend(t time.Time) bool {
	wd := t.In(JST).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsMarketOpenAt checks if the TSE would be in session at the given time.
func IsMarketOpenAt(t time.Time) bool {
	t = t.In(JST)

	if IsWeekend(t) {
		return false
	}

	if IsTradingHoliday(t) {
		return false
	}

	// Lunch break between the morning and afternoon sessions
	if !t.Before(LunchBreakStart(t)) && t.Before(LunchBreakEnd(t)) {
		return false
	}

	open := MarketOpenTime(t)
	close := MarketCloseTime(t)

	return !t.Before(open) && !t.After(close)
}

// NextTradingDay returns the next trading day from the given date.
// If the given date is a trading day, it returns the next one.
func NextTradingDay(from time.Time) time.Time {
	next := from.In(JST).AddDate(0, 0, 1)
	for !IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// PrevTradingDay returns the previous trading day from the given date.
func PrevTradingDay(from time.Time) time.Time {
	prev := from.In(JST).AddDate(0, 0, -1)
	for !IsTradingDay(prev) {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

// IsTradingDay checks if the given date is a trading day (not weekend, not holiday).
func IsTradingDay(t time.Time) bool {
	t = t.In(JST)
	if IsWeekend(t) {
		return false
	}
	return !IsTradingHoliday(t)
}

// TradingDaysBetween returns the number of trading days between two dates (exclusive of end).
func TradingDaysBetween(start, end time.Time) int {
	start = start.In(JST)
	end = end.In(JST)
	count := 0
	current := start
	for current.Before(end) {
		if IsTradingDay(current) {
			count++
		}
		current = current.AddDate(0, 0, 1)
	}
	return count
}

// IsTradingHoliday checks if the given date is a TSE non-trading day.
// This list should be updated annually.
func IsTradingHoliday(t time.Time) bool {
	t = t.In(JST)
	dateStr := t.Format("2006-01-02")

	_, isHoliday := tseHolidays2026[dateStr]
	return isHoliday
}

// TSE non-trading days for 2026 (update annually).
// National holidays plus the year-end/new-year exchange closures.
var tseHolidays2026 = map[string]string{
	"2026-01-01": "New Year's Day",
	"2026-01-02": "Exchange Holiday",
	"2026-01-12": "Coming of Age Day",
	"2026-02-11": "National Foundation Day",
	"2026-02-23": "Emperor's Birthday",
	"2026-03-20": "Vernal Equinox Day",
	"2026-04-29": "Showa Day",
	"2026-05-04": "Greenery Day",
	"2026-05-05": "Children's Day",
	"2026-05-06": "Constitution Memorial Day (observed)",
	"2026-07-20": "Marine Day",
	"2026-08-11": "Mountain Day",
	"2026-09-21": "Respect for the Aged Day",
	"2026-09-23": "Autumnal Equinox Day",
	"2026-10-12": "Sports Day",
	"2026-11-03": "Culture Day",
	"2026-11-23": "Labour Thanksgiving Day",
	"2026-12-31": "Exchange Holiday",
}

// GetTradingHolidays returns all non-trading days for the current year.
func GetTradingHolidays() map[string]string {
	return tseHolidays2026
}

// ParseDateJST parses a date string in "2006-01-02" format and returns it in JST.
func ParseDateJST(dateStr string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", dateStr, JST)
}

// FormatDate formats a time.Time to "2006-01-02" in JST.
func FormatDate(t time.Time) string {
	return t.In(JST).Format("2006-01-02")
}

// FormatDateTime formats a time.Time to "2006-01-02 15:04:05 JST".
func FormatDateTime(t time.Time) string {
	return t.In(JST).Format("2006-01-02 15:04:05 MST")
}

// YearlyAnalysisDates builds one date per year from startYear through
// endYear at the given "MM-DD" month-day, in JST.
func YearlyAnalysisDates(startYear, endYear int, monthDay string) ([]time.Time, error) {
	if endYear < startYear {
		return nil, fmt.Errorf("end year %d before start year %d", endYear, startYear)
	}
	anchor, err := time.ParseInLocation("01-02", monthDay, JST)
	if err != nil {
		return nil, fmt.Errorf("parse month-day %q: %w", monthDay, err)
	}
	dates := make([]time.Time, 0, endYear-startYear+1)
	for y := startYear; y <= endYear; y++ {
		dates = append(dates, time.Date(y, anchor.Month(), anchor.Day(), 0, 0, 0, 0, JST))
	}
	return dates, nil
}

// MarketStatus returns the current TSE session status string.
func MarketStatus() string {
	now := NowJST()

	if IsWeekend(now) {
		return "CLOSED (Weekend)"
	}

	if IsTradingHoliday(now) {
		holiday := tseHolidays2026[now.Format("2006-01-02")]
		return "CLOSED (" + holiday + ")"
	}

	open := MarketOpenTime(now)
	close := MarketCloseTime(now)

	switch {
	case now.Before(open):
		return "PRE-MARKET"
	case !now.Before(LunchBreakStart(now)) && now.Before(LunchBreakEnd(now)):
		return "LUNCH BREAK"
	case !now.After(close):
		return "OPEN"
	default:
		return "CLOSED"
	}
}

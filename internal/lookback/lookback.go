// Package lookback resolves the most recent usable record for an
// analysis date. Statements are keyed by disclosure date because a
// filing only becomes usable once public; prices are keyed by trade
// date because exchanges close on weekends and holidays.
package lookback

import (
	"fmt"
	"time"

	"github.com/kawazu256/netnet/pkg/models"
	"github.com/kawazu256/netnet/pkg/utils"
)

// ErrNotFound is returned when no record falls inside the window.
// It signals an expected skip for the (ticker, analysis date) pair,
// not a failure.
var ErrNotFound = fmt.Errorf("no record within lookback window")

// withinWindow reports whether key is usable for analysisDate: on or
// before it, and at most windowDays old.
func withinWindow(key, analysisDate time.Time, windowDays int) bool {
	key = utils.Day(key)
	analysisDate = utils.Day(analysisDate)
	if key.After(analysisDate) {
		return false
	}
	return utils.DaysBetween(key, analysisDate) <= windowDays
}

// Statement returns the statement with the latest disclosure date at
// or before analysisDate and within windowDays of it. When several
// statements share that disclosure date, the one covering the latest
// period end wins.
func Statement(stmts []models.FinancialStatement, analysisDate time.Time, windowDays int) (models.FinancialStatement, error) {
	var best models.FinancialStatement
	found := false
	for _, s := range stmts {
		if !withinWindow(s.DisclosureDate, analysisDate, windowDays) {
			continue
		}
		if !found {
			best = s
			found = true
			continue
		}
		switch {
		case s.DisclosureDate.After(best.DisclosureDate):
			best = s
		case utils.SameDay(s.DisclosureDate, best.DisclosureDate) && s.PeriodEnd.After(best.PeriodEnd):
			best = s
		}
	}
	if !found {
		return models.FinancialStatement{}, ErrNotFound
	}
	return best, nil
}

// Price returns the bar with the latest trade date at or before
// analysisDate and within windowDays of it.
func Price(bars []models.OHLCRecord, analysisDate time.Time, windowDays int) (models.OHLCRecord, error) {
	var best models.OHLCRecord
	found := false
	for _, b := range bars {
		if !withinWindow(b.TradeDate, analysisDate, windowDays) {
			continue
		}
		if !found || b.TradeDate.After(best.TradeDate) {
			best = b
			found = true
		}
	}
	if !found {
		return models.OHLCRecord{}, ErrNotFound
	}
	return best, nil
}

// StatementRange returns the query window [from, to] that can contain
// a usable statement for analysisDate.
func StatementRange(analysisDate time.Time, windowDays int) (time.Time, time.Time) {
	to := utils.Day(analysisDate)
	return to.AddDate(0, 0, -windowDays), to
}

// PriceRange returns the query window [from, to] that can contain a
// usable close for analysisDate.
func PriceRange(analysisDate time.Time, windowDays int) (time.Time, time.Time) {
	to := utils.Day(analysisDate)
	return to.AddDate(0, 0, -windowDays), to
}

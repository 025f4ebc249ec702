package lookback

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kawazu256/netnet/pkg/models"
	"github.com/kawazu256/netnet/pkg/utils"
)

func day(s string) time.Time {
	t, err := utils.ParseDateJST(s)
	if err != nil {
		panic(err)
	}
	return t
}

func stmt(disclosed, periodEnd string) models.FinancialStatement {
	return models.FinancialStatement{
		Code:              "72030",
		DisclosureDate:    day(disclosed),
		PeriodEnd:         day(periodEnd),
		CurrentAssets:     decimal.NewFromInt(1000),
		TotalLiabilities:  decimal.NewFromInt(400),
		SharesOutstanding: decimal.NewFromInt(10),
	}
}

func bar(traded string, close float64) models.OHLCRecord {
	return models.OHLCRecord{
		Code:      "72030",
		TradeDate: day(traded),
		Close:     decimal.NewFromFloat(close),
	}
}

func TestStatementPicksNearestPreceding(t *testing.T) {
	stmts := []models.FinancialStatement{
		stmt("2009-08-01", "2009-06-30"),
		stmt("2009-10-30", "2009-09-30"),
	}

	got, err := Statement(stmts, day("2009-12-21"), 90)
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	if !got.DisclosureDate.Equal(day("2009-10-30")) {
		t.Errorf("picked disclosure %s, want 2009-10-30", utils.FormatDate(got.DisclosureDate))
	}
}

func TestStatementOrderInsensitive(t *testing.T) {
	stmts := []models.FinancialStatement{
		stmt("2009-10-30", "2009-09-30"),
		stmt("2009-08-01", "2009-06-30"),
	}

	got, err := Statement(stmts, day("2009-12-21"), 365)
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	if !got.DisclosureDate.Equal(day("2009-10-30")) {
		t.Errorf("picked disclosure %s, want 2009-10-30", utils.FormatDate(got.DisclosureDate))
	}
}

func TestStatementIgnoresFutureDisclosures(t *testing.T) {
	// The January statement exists in the series but was not yet
	// public on the analysis date.
	stmts := []models.FinancialStatement{
		stmt("2009-10-30", "2009-09-30"),
		stmt("2010-01-29", "2009-12-31"),
	}

	got, err := Statement(stmts, day("2009-12-21"), 365)
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	if !got.DisclosureDate.Equal(day("2009-10-30")) {
		t.Errorf("picked disclosure %s, want 2009-10-30", utils.FormatDate(got.DisclosureDate))
	}
}

func TestStatementTieBreakLatestPeriodEnd(t *testing.T) {
	// A company restating an earlier quarter can disclose two filings
	// the same day; the one covering the newer period carries the
	// current fundamentals.
	stmts := []models.FinancialStatement{
		stmt("2009-10-30", "2009-06-30"),
		stmt("2009-10-30", "2009-09-30"),
	}

	got, err := Statement(stmts, day("2009-12-21"), 90)
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	if !got.PeriodEnd.Equal(day("2009-09-30")) {
		t.Errorf("picked period end %s, want 2009-09-30", utils.FormatDate(got.PeriodEnd))
	}
}

func TestStatementWindowBoundaryInclusive(t *testing.T) {
	// Exactly windowDays old still qualifies.
	stmts := []models.FinancialStatement{stmt("2009-09-22", "2009-06-30")}

	if _, err := Statement(stmts, day("2009-12-21"), 90); err != nil {
		t.Errorf("statement exactly 90 days old rejected: %v", err)
	}
	if _, err := Statement(stmts, day("2009-12-21"), 89); !errors.Is(err, ErrNotFound) {
		t.Errorf("statement 90 days old inside an 89-day window: err = %v, want ErrNotFound", err)
	}
}

func TestStatementNotFound(t *testing.T) {
	if _, err := Statement(nil, day("2009-12-21"), 365); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty series: err = %v, want ErrNotFound", err)
	}

	stale := []models.FinancialStatement{stmt("2008-05-01", "2008-03-31")}
	if _, err := Statement(stale, day("2009-12-21"), 365); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale series: err = %v, want ErrNotFound", err)
	}
}

func TestPricePicksLatestTradedDay(t *testing.T) {
	// 2009-12-21 was a Monday; the prior Friday close must win over
	// older bars.
	bars := []models.OHLCRecord{
		bar("2009-12-16", 455),
		bar("2009-12-17", 452),
		bar("2009-12-18", 450),
	}

	got, err := Price(bars, day("2009-12-20"), 14)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !got.TradeDate.Equal(day("2009-12-18")) {
		t.Errorf("picked trade date %s, want 2009-12-18", utils.FormatDate(got.TradeDate))
	}
	if !got.Close.Equal(decimal.NewFromInt(450)) {
		t.Errorf("close = %s, want 450", got.Close)
	}
}

func TestPriceSameDayUsable(t *testing.T) {
	bars := []models.OHLCRecord{
		bar("2009-12-18", 450),
		bar("2009-12-21", 448),
	}

	got, err := Price(bars, day("2009-12-21"), 14)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !got.TradeDate.Equal(day("2009-12-21")) {
		t.Errorf("picked trade date %s, want the analysis date itself", utils.FormatDate(got.TradeDate))
	}
}

func TestPriceNotFoundOutsideWindow(t *testing.T) {
	// A ticker suspended for a month has no bar inside the window.
	bars := []models.OHLCRecord{bar("2009-11-10", 500)}

	if _, err := Price(bars, day("2009-12-21"), 14); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRanges(t *testing.T) {
	from, to := PriceRange(day("2009-12-21"), 14)
	if utils.FormatDate(from) != "2009-12-07" || utils.FormatDate(to) != "2009-12-21" {
		t.Errorf("PriceRange = [%s, %s], want [2009-12-07, 2009-12-21]",
			utils.FormatDate(from), utils.FormatDate(to))
	}

	from, to = StatementRange(day("2009-12-21"), 365)
	if utils.FormatDate(from) != "2008-12-21" || utils.FormatDate(to) != "2009-12-21" {
		t.Errorf("StatementRange = [%s, %s], want [2008-12-21, 2009-12-21]",
			utils.FormatDate(from), utils.FormatDate(to))
	}
}

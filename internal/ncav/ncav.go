// Package ncav implements the net-net screen: net current asset value
// per share against the close price, with exact decimal arithmetic.
// Evaluate performs no I/O and is fully deterministic, so it is the
// unit boundary for testing.
package ncav

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kawazu256/netnet/pkg/models"
	"github.com/kawazu256/netnet/pkg/utils"
)

// DefaultLimit is the fraction of NCAVPS a close must stay under to
// qualify as a net-net.
var DefaultLimit = decimal.RequireFromString("0.8")

// Rejection sentinels. None of these is a failure: the ticker simply
// produces no candidate for the analysis date.
var (
	// ErrNotNetNet means the close sits at or above limit × NCAVPS.
	ErrNotNetNet = fmt.Errorf("price not below NCAVPS limit")

	// ErrNonPositiveShares means shares outstanding is zero or negative,
	// so NCAVPS is undefined.
	ErrNonPositiveShares = fmt.Errorf("non-positive shares outstanding")

	// ErrNonPositiveNCAVPS means liabilities meet or exceed current
	// assets; such a balance sheet can never screen in.
	ErrNonPositiveNCAVPS = fmt.Errorf("non-positive NCAVPS")
)

// NCAV returns current assets minus total liabilities.
func NCAV(stmt models.FinancialStatement) decimal.Decimal {
	return stmt.CurrentAssets.Sub(stmt.TotalLiabilities)
}

// NCAVPS returns NCAV divided by shares outstanding. The caller must
// ensure shares outstanding is positive.
func NCAVPS(stmt models.FinancialStatement) decimal.Decimal {
	return NCAV(stmt).Div(stmt.SharesOutstanding)
}

// Engine screens one (statement, close) pair at a time.
type Engine struct {
	// Limit is the NCAVPS fraction the close must stay strictly under.
	Limit decimal.Decimal
}

// NewEngine returns an engine with the given acceptance limit.
// A zero limit falls back to DefaultLimit.
func NewEngine(limit decimal.Decimal) Engine {
	if limit.Sign() <= 0 {
		limit = DefaultLimit
	}
	return Engine{Limit: limit}
}

// Evaluate screens the statement against the close. On acceptance it
// returns the candidate row for the analysis date; otherwise the error
// names why no candidate was produced. A *models.InconsistencyError
// marks data the caller must log and exclude rather than a plain
// rejection.
func (e Engine) Evaluate(stmt models.FinancialStatement, bar models.OHLCRecord, analysisDate time.Time) (models.NetNetCandidate, error) {
	var zero models.NetNetCandidate

	ncavDate := stmt.PeriodEnd
	if ncavDate.IsZero() {
		ncavDate = stmt.DisclosureDate
	}

	skew := utils.DaysBetween(ncavDate, stmt.DisclosureDate)
	if skew < 0 {
		return zero, &models.InconsistencyError{
			Code:   stmt.Code,
			Field:  "SkewDays",
			Reason: fmt.Sprintf("disclosure %s precedes period end %s (%d days)", utils.FormatDate(stmt.DisclosureDate), utils.FormatDate(ncavDate), skew),
		}
	}

	if stmt.SharesOutstanding.Sign() <= 0 {
		return zero, ErrNonPositiveShares
	}

	ncavps := NCAVPS(stmt)
	if ncavps.Sign() <= 0 {
		return zero, ErrNonPositiveNCAVPS
	}

	price := bar.Close
	mos := price.Div(ncavps)

	// Strict inequality: a close exactly at the threshold is out.
	threshold := ncavps.Mul(e.Limit)
	if price.Cmp(threshold) >= 0 {
		return zero, ErrNotNetNet
	}

	return models.NetNetCandidate{
		Code:             stmt.Code,
		AnalysisDate:     utils.Day(analysisDate),
		NCAVPS:           ncavps,
		SharePrice:       price,
		MOSRate:          mos,
		NCAVDate:         ncavDate,
		STDisclosureDate: stmt.DisclosureDate,
		SkewDays:         skew,
	}, nil
}

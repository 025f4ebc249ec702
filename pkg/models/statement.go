package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FinancialStatement is one disclosed balance-sheet snapshot for a ticker.
// A statement becomes usable for screening only from its DisclosureDate
// onward, never from the period it describes.
type FinancialStatement struct {
	Code              string          `json:"code"`
	DisclosureDate    time.Time       `json:"disclosure_date"` // date the filing became public
	PeriodEnd         time.Time       `json:"period_end"`      // balance-sheet reference date
	CurrentAssets     decimal.Decimal `json:"current_assets"`
	TotalLiabilities  decimal.Decimal `json:"total_liabilities"`
	SharesOutstanding decimal.Decimal `json:"shares_outstanding"`
}

// Validate reports the first structural problem with the statement.
// Records that fail validation are dropped at the client boundary
// rather than propagated with undefined fields.
func (s FinancialStatement) Validate() error {
	if s.Code == "" {
		return &InconsistencyError{Code: s.Code, Field: "Code", Reason: "empty ticker code"}
	}
	if s.DisclosureDate.IsZero() {
		return &InconsistencyError{Code: s.Code, Field: "DisclosureDate", Reason: "missing disclosure date"}
	}
	if s.PeriodEnd.IsZero() {
		return &InconsistencyError{Code: s.Code, Field: "PeriodEnd", Reason: "missing period end"}
	}
	if s.DisclosureDate.Before(s.PeriodEnd) {
		return &InconsistencyError{
			Code:   s.Code,
			Field:  "DisclosureDate",
			Reason: fmt.Sprintf("disclosed %s before period end %s", s.DisclosureDate.Format("2006-01-02"), s.PeriodEnd.Format("2006-01-02")),
		}
	}
	return nil
}

// InconsistencyError marks a record whose fields contradict each other
// or the upstream schema. The affected ticker is excluded and the run
// continues.
type InconsistencyError struct {
	Code   string // ticker the record belongs to
	Field  string // field that failed
	Reason string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("data inconsistency for %s: %s: %s", e.Code, e.Field, e.Reason)
}

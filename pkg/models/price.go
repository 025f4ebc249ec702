package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCRecord is one daily close for a ticker. There is at most one per
// (ticker, trade date) and closes are never revised within a run.
type OHLCRecord struct {
	Code      string          `json:"code"`
	TradeDate time.Time       `json:"trade_date"`
	Close     decimal.Decimal `json:"close"` // adjusted close when the venue provides one
}

// Validate rejects bars that cannot represent a traded day.
func (r OHLCRecord) Validate() error {
	if r.Code == "" {
		return &InconsistencyError{Code: r.Code, Field: "Code", Reason: "empty ticker code"}
	}
	if r.TradeDate.IsZero() {
		return &InconsistencyError{Code: r.Code, Field: "TradeDate", Reason: "missing trade date"}
	}
	if r.Close.Sign() <= 0 {
		return &InconsistencyError{Code: r.Code, Field: "Close", Reason: "non-positive close " + r.Close.String()}
	}
	return nil
}

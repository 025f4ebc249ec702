package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NetNetCandidate is one accepted screening result: a ticker whose
// close sits below the configured fraction of its net current asset
// value per share on the analysis date. Candidates are immutable and
// written exactly once to that date's CSV.
type NetNetCandidate struct {
	Code             string          `json:"code"`
	AnalysisDate     time.Time       `json:"analysis_date"`
	NCAVPS           decimal.Decimal `json:"ncavps"`
	SharePrice       decimal.Decimal `json:"share_price"`
	MOSRate          decimal.Decimal `json:"mos_rate"` // share price / NCAVPS; lower is a deeper discount
	NCAVDate         time.Time       `json:"ncav_date"`
	STDisclosureDate time.Time       `json:"st_disclosure_date"`
	SkewDays         int             `json:"fs_st_skew_days"` // days between NCAVDate and its disclosure
}

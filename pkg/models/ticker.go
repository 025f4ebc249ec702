// Package models defines the core data structures shared across the
// net-net collection pipeline.
package models

// Ticker identifies one listed issue on the Tokyo Stock Exchange.
// Instances are immutable once fetched; the pipeline owns the universe
// for the duration of a run.
type Ticker struct {
	Code   string `json:"code"`   // e.g., "72030" (J-Quants 5-digit local code)
	Name   string `json:"name"`   // e.g., "トヨタ自動車"
	Market string `json:"market"` // e.g., "プライム"
}

package jquants

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kawazu256/netnet/pkg/models"
	"github.com/kawazu256/netnet/pkg/utils"
)

// Wire schemas for the J-Quants v1 endpoints. Balance-sheet figures
// arrive as strings (empty when undisclosed); daily quotes arrive as
// JSON numbers with null on untraded days. Everything is converted to
// the models types here, and malformed rows never leave this file.

type listedInfoResponse struct {
	Info          []listedInfo `json:"info"`
	PaginationKey string       `json:"pagination_key"`
}

type listedInfo struct {
	Date           string `json:"Date"`
	Code           string `json:"Code"`
	CompanyName    string `json:"CompanyName"`
	MarketCode     string `json:"MarketCode"`
	MarketCodeName string `json:"MarketCodeName"`
}

// isCommonStock reports whether the listing is an ordinary equity.
// 0105 is the TOKYO PRO Market and 0109 covers ETFs, ETNs, REITs and
// other funds, none of which publish the balance sheets screening
// needs.
func (l listedInfo) isCommonStock() bool {
	return l.MarketCode != "0105" && l.MarketCode != "0109"
}

func (l listedInfo) toTicker() models.Ticker {
	return models.Ticker{
		Code:   l.Code,
		Name:   l.CompanyName,
		Market: l.MarketCodeName,
	}
}

type statementsResponse struct {
	Statements    []statementRecord `json:"statements"`
	PaginationKey string            `json:"pagination_key"`
}

// statementRecord is one row of /fins/statements: summary figures and
// the share counts the balance-sheet endpoint lacks.
type statementRecord struct {
	DisclosedDate        string `json:"DisclosedDate"`
	LocalCode            string `json:"LocalCode"`
	TypeOfDocument       string `json:"TypeOfDocument"`
	TypeOfCurrentPeriod  string `json:"TypeOfCurrentPeriod"`
	CurrentPeriodEndDate string `json:"CurrentPeriodEndDate"`
	TotalAssets          string `json:"TotalAssets"`
	Equity               string `json:"Equity"`
	IssuedShares         string `json:"NumberOfIssuedAndOutstandingSharesAtTheEndOfFiscalYearIncludingTreasuryStock"`
	TreasuryShares       string `json:"NumberOfTreasuryStockAtTheEndOfFiscalYear"`
}

// sharesOutstanding returns issued shares net of treasury stock.
func (r statementRecord) sharesOutstanding() decimal.Decimal {
	issued, ok := parseDecimal(r.IssuedShares)
	if !ok {
		return decimal.Zero
	}
	if treasury, ok := parseDecimal(r.TreasuryShares); ok {
		return issued.Sub(treasury)
	}
	return issued
}

type fsDetailsResponse struct {
	FsDetails     []fsDetailRecord `json:"fs_details"`
	PaginationKey string           `json:"pagination_key"`
}

// fsDetailRecord is one row of /fins/fs_details: the full balance
// sheet as an account-name → value map.
type fsDetailRecord struct {
	DisclosedDate      string            `json:"DisclosedDate"`
	LocalCode          string            `json:"LocalCode"`
	TypeOfDocument     string            `json:"TypeOfDocument"`
	FinancialStatement map[string]string `json:"FinancialStatement"`
}

// account returns the first parsable value among the given account
// names. IFRS filers and domestic-standard filers label the same line
// differently, so callers pass both spellings.
func (r fsDetailRecord) account(names ...string) (decimal.Decimal, bool) {
	for _, name := range names {
		if v, ok := parseDecimal(r.FinancialStatement[name]); ok {
			return v, true
		}
	}
	return decimal.Decimal{}, false
}

func (r fsDetailRecord) currentAssets() (decimal.Decimal, bool) {
	return r.account("Current assets (IFRS)", "Current assets")
}

// totalLiabilities falls back to current plus non-current liabilities
// when the aggregate line is not disclosed.
func (r fsDetailRecord) totalLiabilities() (decimal.Decimal, bool) {
	if v, ok := r.account("Liabilities (IFRS)", "Liabilities"); ok {
		return v, true
	}
	cl, okCL := r.account("Current liabilities (IFRS)", "Current liabilities")
	ncl, okNCL := r.account("Non-current liabilities (IFRS)", "Non-current liabilities")
	if okCL && okNCL {
		return cl.Add(ncl), true
	}
	return decimal.Decimal{}, false
}

func (r fsDetailRecord) periodEnd() (time.Time, bool) {
	return parseDate(r.FinancialStatement["Current period end date, DEI"])
}

type dailyQuotesResponse struct {
	DailyQuotes   []dailyQuote `json:"daily_quotes"`
	PaginationKey string       `json:"pagination_key"`
}

type dailyQuote struct {
	Date            string           `json:"Date"`
	Code            string           `json:"Code"`
	Close           *decimal.Decimal `json:"Close"`
	AdjustmentClose *decimal.Decimal `json:"AdjustmentClose"`
}

// toOHLC converts the quote to a record, preferring the
// split-adjusted close. Untraded days carry null closes and produce
// no record.
func (q dailyQuote) toOHLC() (models.OHLCRecord, bool) {
	date, ok := parseDate(q.Date)
	if !ok {
		return models.OHLCRecord{}, false
	}
	close := q.AdjustmentClose
	if close == nil {
		close = q.Close
	}
	if close == nil {
		return models.OHLCRecord{}, false
	}
	return models.OHLCRecord{
		Code:      q.Code,
		TradeDate: date,
		Close:     *close,
	}, true
}

type tokenResponse struct {
	RefreshToken string `json:"refreshToken"`
	IDToken      string `json:"idToken"`
}

// --- Conversion helpers ---

func parseDecimal(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := utils.ParseDateJST(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// mergeStatements joins the balance-sheet rows with their same-day
// summary rows into complete statements. Rows with no usable current
// assets or liabilities, or no summary partner, are omitted; merged
// rows that fail validation are dropped and reported.
func mergeStatements(code string, details []fsDetailRecord, stmts []statementRecord) ([]models.FinancialStatement, []error) {
	// Index summaries by disclosure date; on a same-day correction the
	// row covering the latest period wins.
	byDate := make(map[string]statementRecord, len(stmts))
	for _, st := range stmts {
		prev, ok := byDate[st.DisclosedDate]
		if !ok || st.CurrentPeriodEndDate > prev.CurrentPeriodEndDate {
			byDate[st.DisclosedDate] = st
		}
	}

	var merged []models.FinancialStatement
	var dropped []error
	for _, d := range details {
		ca, ok := d.currentAssets()
		if !ok {
			continue
		}
		tl, ok := d.totalLiabilities()
		if !ok {
			continue
		}
		partner, ok := byDate[d.DisclosedDate]
		if !ok {
			continue
		}

		disclosed, ok := parseDate(d.DisclosedDate)
		if !ok {
			dropped = append(dropped, &models.InconsistencyError{
				Code: code, Field: "DisclosureDate",
				Reason: fmt.Sprintf("unparsable disclosure date %q", d.DisclosedDate),
			})
			continue
		}
		periodEnd, ok := parseDate(partner.CurrentPeriodEndDate)
		if !ok {
			periodEnd, _ = d.periodEnd()
		}

		stmt := models.FinancialStatement{
			Code:              code,
			DisclosureDate:    disclosed,
			PeriodEnd:         periodEnd,
			CurrentAssets:     ca,
			TotalLiabilities:  tl,
			SharesOutstanding: partner.sharesOutstanding(),
		}
		if err := stmt.Validate(); err != nil {
			dropped = append(dropped, err)
			continue
		}
		merged = append(merged, stmt)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].DisclosureDate.Before(merged[j].DisclosureDate)
	})
	return merged, dropped
}

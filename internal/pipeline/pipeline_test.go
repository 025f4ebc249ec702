package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kawazu256/netnet/internal/ncav"
	"github.com/kawazu256/netnet/pkg/models"
	"github.com/kawazu256/netnet/pkg/utils"
)

// fakeMarket serves canned data and tracks how many requests are in
// flight at once.
type fakeMarket struct {
	mu       sync.Mutex
	inFlight int
	peak     int

	universe    []models.Ticker
	universeErr error
	stmts       map[string][]models.FinancialStatement
	bars        map[string][]models.OHLCRecord
	stmtErr     map[string]error
	delay       time.Duration
}

func (f *fakeMarket) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
}

func (f *fakeMarket) exit() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeMarket) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *fakeMarket) ListTickers(ctx context.Context) ([]models.Ticker, error) {
	if f.universeErr != nil {
		return nil, f.universeErr
	}
	return f.universe, nil
}

func (f *fakeMarket) GetStatements(ctx context.Context, code string, from, to time.Time) ([]models.FinancialStatement, error) {
	f.enter()
	defer f.exit()
	time.Sleep(f.delay)
	if err := f.stmtErr[code]; err != nil {
		return nil, err
	}
	return f.stmts[code], nil
}

func (f *fakeMarket) GetOHLC(ctx context.Context, code string, from, to time.Time) ([]models.OHLCRecord, error) {
	f.enter()
	defer f.exit()
	time.Sleep(f.delay)
	return f.bars[code], nil
}

// fakeSink records writes per date.
type fakeSink struct {
	mu         sync.Mutex
	candidates map[string][]models.NetNetCandidate
	noQuote    map[string][]string
	candErr    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		candidates: map[string][]models.NetNetCandidate{},
		noQuote:    map[string][]string{},
	}
}

func (s *fakeSink) WriteCandidates(date time.Time, cands []models.NetNetCandidate) error {
	if s.candErr != nil {
		return s.candErr
	}
	s.mu.Lock()
	s.candidates[utils.FormatDate(date)] = cands
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) WriteNoQuote(date time.Time, codes []string) error {
	s.mu.Lock()
	s.noQuote[utils.FormatDate(date)] = codes
	s.mu.Unlock()
	return nil
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := utils.ParseDateJST(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

// cheapStatement yields NCAVPS 80 (NCAV 800 over 10 shares), so with
// the default 0.8 limit any close under 64 is accepted.
func cheapStatement(t *testing.T, code string) models.FinancialStatement {
	return models.FinancialStatement{
		Code:              code,
		DisclosureDate:    day(t, "2015-05-10"),
		PeriodEnd:         day(t, "2015-03-31"),
		CurrentAssets:     decimal.NewFromInt(1000),
		TotalLiabilities:  decimal.NewFromInt(200),
		SharesOutstanding: decimal.NewFromInt(10),
	}
}

func bar(t *testing.T, code string, close int64) models.OHLCRecord {
	return models.OHLCRecord{
		Code:      code,
		TradeDate: day(t, "2015-12-18"),
		Close:     decimal.NewFromInt(close),
	}
}

func newTestPipeline(market *fakeMarket, sink *fakeSink, limit int) *Pipeline {
	return New(market, NewGate(limit), ncav.NewEngine(decimal.Decimal{}), sink, Options{})
}

func TestRunScreensAndWrites(t *testing.T) {
	analysis := day(t, "2015-12-21")
	market := &fakeMarket{
		universe: []models.Ticker{
			{Code: "40000"}, // accepted: close 50 < 64
			{Code: "10000"}, // rejected: close 70 >= 64
			{Code: "20000"}, // no statement in window
			{Code: "30000"}, // statement but no bars
		},
		stmts: map[string][]models.FinancialStatement{
			"40000": {cheapStatement(t, "40000")},
			"10000": {cheapStatement(t, "10000")},
			"30000": {cheapStatement(t, "30000")},
		},
		bars: map[string][]models.OHLCRecord{
			"40000": {bar(t, "40000", 50)},
			"10000": {bar(t, "10000", 70)},
		},
	}
	sink := newFakeSink()

	summary, err := newTestPipeline(market, sink, 2).Run(context.Background(), []time.Time{analysis})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Universe != 4 {
		t.Errorf("Universe: got %d, want 4", summary.Universe)
	}
	if len(summary.Dates) != 1 {
		t.Fatalf("got %d date summaries, want 1", len(summary.Dates))
	}

	ds := summary.Dates[0]
	if ds.State != StateDone {
		t.Errorf("State: got %s, want %s", ds.State, StateDone)
	}
	if ds.Processed != 4 || ds.Candidates != 1 || ds.SkippedStatement != 1 || ds.SkippedPrice != 1 || ds.Failed != 0 {
		t.Errorf("summary: %+v", ds)
	}

	cands := sink.candidates["2015-12-21"]
	if len(cands) != 1 || cands[0].Code != "40000" {
		t.Fatalf("written candidates: %+v", cands)
	}
	if !cands[0].NCAVPS.Equal(decimal.NewFromInt(80)) {
		t.Errorf("NCAVPS: got %s", cands[0].NCAVPS)
	}
	if len(ds.Accepted) != 1 || ds.Accepted[0].Code != "40000" {
		t.Errorf("summary rows: %+v", ds.Accepted)
	}
	if got := sink.noQuote["2015-12-21"]; len(got) != 1 || got[0] != "30000" {
		t.Errorf("no-quote list: %v", got)
	}
}

func TestGateBoundsConcurrency(t *testing.T) {
	analysis := day(t, "2015-12-21")
	market := &fakeMarket{
		stmts: map[string][]models.FinancialStatement{},
		bars:  map[string][]models.OHLCRecord{},
		delay: 2 * time.Millisecond,
	}
	for i := 0; i < 50; i++ {
		code := fmt.Sprintf("%05d", 10000+i*10)
		market.universe = append(market.universe, models.Ticker{Code: code})
		market.stmts[code] = []models.FinancialStatement{cheapStatement(t, code)}
		market.bars[code] = []models.OHLCRecord{bar(t, code, 50)}
	}
	sink := newFakeSink()

	summary, err := newTestPipeline(market, sink, 5).Run(context.Background(), []time.Time{analysis})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := summary.Dates[0].Candidates; got != 50 {
		t.Errorf("Candidates: got %d, want 50", got)
	}

	peak := market.peakInFlight()
	if peak > 5 {
		t.Errorf("peak concurrent requests: got %d, want at most 5", peak)
	}
	if peak < 2 {
		t.Errorf("peak concurrent requests: got %d, want some overlap", peak)
	}

	// Output order is deterministic regardless of completion order.
	cands := sink.candidates["2015-12-21"]
	for i := 1; i < len(cands); i++ {
		if cands[i-1].Code >= cands[i].Code {
			t.Fatalf("candidates not sorted at %d: %s >= %s", i, cands[i-1].Code, cands[i].Code)
		}
	}
}

func TestTaskFailureIsIsolated(t *testing.T) {
	analysis := day(t, "2015-12-21")
	market := &fakeMarket{
		universe: []models.Ticker{{Code: "10000"}, {Code: "20000"}, {Code: "30000"}},
		stmts: map[string][]models.FinancialStatement{
			"10000": {cheapStatement(t, "10000")},
			"30000": {cheapStatement(t, "30000")},
		},
		bars: map[string][]models.OHLCRecord{
			"10000": {bar(t, "10000", 50)},
			"30000": {bar(t, "30000", 50)},
		},
		stmtErr: map[string]error{
			"20000": fmt.Errorf("connection reset"),
		},
	}
	sink := newFakeSink()

	summary, err := newTestPipeline(market, sink, 2).Run(context.Background(), []time.Time{analysis})
	if err != nil {
		t.Fatalf("Run should absorb per-ticker failures, got %v", err)
	}

	ds := summary.Dates[0]
	if ds.Failed != 1 {
		t.Errorf("Failed: got %d, want 1", ds.Failed)
	}
	if ds.State != StateDoneWithErrors {
		t.Errorf("State: got %s, want %s", ds.State, StateDoneWithErrors)
	}
	if ds.Candidates != 2 {
		t.Errorf("Candidates: got %d, want 2 (healthy tickers unaffected)", ds.Candidates)
	}
	if !summary.HadErrors() {
		t.Error("HadErrors should be true")
	}
}

func TestUniverseFetchFailureIsFatal(t *testing.T) {
	market := &fakeMarket{universeErr: fmt.Errorf("service unavailable")}
	_, err := newTestPipeline(market, newFakeSink(), 2).Run(context.Background(), []time.Time{day(t, "2015-12-21")})
	if err == nil {
		t.Fatal("Run should fail when the universe fetch fails")
	}
}

func TestInconsistentDataExcludedNotFailed(t *testing.T) {
	analysis := day(t, "2015-12-21")

	// Disclosed before the period it covers: impossible filing.
	skewed := cheapStatement(t, "10000")
	skewed.DisclosureDate = day(t, "2015-03-31")
	skewed.PeriodEnd = day(t, "2015-05-10")

	zeroShares := cheapStatement(t, "20000")
	zeroShares.SharesOutstanding = decimal.Zero

	market := &fakeMarket{
		universe: []models.Ticker{{Code: "10000"}, {Code: "20000"}},
		stmts: map[string][]models.FinancialStatement{
			"10000": {skewed},
			"20000": {zeroShares},
		},
		bars: map[string][]models.OHLCRecord{
			"10000": {bar(t, "10000", 50)},
			"20000": {bar(t, "20000", 50)},
		},
	}
	sink := newFakeSink()

	summary, err := newTestPipeline(market, sink, 2).Run(context.Background(), []time.Time{analysis})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ds := summary.Dates[0]
	if ds.Inconsistent != 2 {
		t.Errorf("Inconsistent: got %d, want 2", ds.Inconsistent)
	}
	if ds.Failed != 0 {
		t.Errorf("Failed: got %d, want 0", ds.Failed)
	}
	if ds.State != StateDone {
		t.Errorf("State: got %s, want %s (inconsistencies are not failures)", ds.State, StateDone)
	}
	if got := len(sink.candidates["2015-12-21"]); got != 0 {
		t.Errorf("candidates: got %d, want 0", got)
	}
}

func TestWriteFailureDegradesDate(t *testing.T) {
	analysis := day(t, "2015-12-21")
	market := &fakeMarket{
		universe: []models.Ticker{{Code: "10000"}},
		stmts:    map[string][]models.FinancialStatement{"10000": {cheapStatement(t, "10000")}},
		bars:     map[string][]models.OHLCRecord{"10000": {bar(t, "10000", 50)}},
	}
	sink := newFakeSink()
	sink.candErr = fmt.Errorf("disk full")

	summary, err := newTestPipeline(market, sink, 2).Run(context.Background(), []time.Time{analysis})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := summary.Dates[0].State; got != StateDoneWithErrors {
		t.Errorf("State: got %s, want %s", got, StateDoneWithErrors)
	}
}

func TestRunCoversEveryDate(t *testing.T) {
	dates := []time.Time{day(t, "2014-12-22"), day(t, "2015-12-21")}
	market := &fakeMarket{
		universe: []models.Ticker{{Code: "10000"}},
		stmts:    map[string][]models.FinancialStatement{"10000": {cheapStatement(t, "10000")}},
		bars:     map[string][]models.OHLCRecord{"10000": {bar(t, "10000", 50)}},
	}
	sink := newFakeSink()

	summary, err := newTestPipeline(market, sink, 2).Run(context.Background(), dates)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Dates) != 2 {
		t.Fatalf("got %d date summaries, want 2", len(summary.Dates))
	}
	// The 2014 date predates both the filing and the close, so it
	// skips; the 2015 date accepts.
	if summary.Dates[0].Candidates != 0 || summary.Dates[1].Candidates != 1 {
		t.Errorf("per-date candidates: %d then %d", summary.Dates[0].Candidates, summary.Dates[1].Candidates)
	}
	if summary.TotalCandidates() != 1 {
		t.Errorf("TotalCandidates: got %d, want 1", summary.TotalCandidates())
	}
	if _, ok := sink.candidates["2014-12-22"]; !ok {
		t.Error("empty date should still be written")
	}
}

func TestCancelledRunStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	market := &fakeMarket{
		universe: []models.Ticker{{Code: "10000"}},
		stmts:    map[string][]models.FinancialStatement{"10000": {cheapStatement(t, "10000")}},
		bars:     map[string][]models.OHLCRecord{"10000": {bar(t, "10000", 50)}},
	}
	summary, err := newTestPipeline(market, newFakeSink(), 2).
		RunWithUniverse(ctx, market.universe, []time.Time{day(t, "2014-12-22"), day(t, "2015-12-21")})
	if err == nil {
		t.Fatal("cancelled run should return the context error")
	}
	if len(summary.Dates) != 1 {
		t.Errorf("got %d date summaries, want 1 (later dates not started)", len(summary.Dates))
	}
}

func TestGateClampsAndReports(t *testing.T) {
	g := NewGate(0)
	if g.Limit() != 1 {
		t.Errorf("Limit: got %d, want clamp to 1", g.Limit())
	}
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	g.Release()
}

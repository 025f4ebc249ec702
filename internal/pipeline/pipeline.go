// Package pipeline drives the screening run: one ticker universe, a
// fan-out per analysis date under a shared concurrency gate, and one
// result file per date. Failures are isolated at the (ticker, date)
// task boundary so a bad filing or a flaky request never costs more
// than its own ticker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kawazu256/netnet/internal/logging"
	"github.com/kawazu256/netnet/internal/lookback"
	"github.com/kawazu256/netnet/internal/ncav"
	"github.com/kawazu256/netnet/internal/report"
	"github.com/kawazu256/netnet/pkg/models"
)

// State tracks where one analysis date's collection stands.
type State string

const (
	StatePending          State = "pending"
	StateFetchingUniverse State = "fetching_ticker_universe"
	StateFanningOut       State = "fanning_out"
	StateAggregating      State = "aggregating"
	StateWritten          State = "written"
	StateDone             State = "done"
	StateDoneWithErrors   State = "done_with_errors"
)

// MarketData is the slice of the market data client the pipeline
// consumes.
type MarketData interface {
	ListTickers(ctx context.Context) ([]models.Ticker, error)
	GetStatements(ctx context.Context, code string, from, to time.Time) ([]models.FinancialStatement, error)
	GetOHLC(ctx context.Context, code string, from, to time.Time) ([]models.OHLCRecord, error)
}

// ResultSink receives one date's outputs.
type ResultSink interface {
	WriteCandidates(date time.Time, cands []models.NetNetCandidate) error
	WriteNoQuote(date time.Time, codes []string) error
}

// Options are the pipeline's lookback tunables.
type Options struct {
	// StatementLookbackDays bounds how old a usable statement may be.
	StatementLookbackDays int
	// OHLCLookbackDays bounds how old a usable close may be.
	OHLCLookbackDays int
}

func (o *Options) setDefaults() {
	if o.StatementLookbackDays <= 0 {
		o.StatementLookbackDays = 365
	}
	if o.OHLCLookbackDays <= 0 {
		o.OHLCLookbackDays = 14
	}
}

// Pipeline screens a sequence of analysis dates against one ticker
// universe.
type Pipeline struct {
	client  MarketData
	gate    *Gate
	engine  ncav.Engine
	results ResultSink
	perf    *report.Recorder
	streams *logging.Streams
	opts    Options
}

// New builds a pipeline. Performance recording and log streams are
// attached separately and may be left off.
func New(client MarketData, gate *Gate, engine ncav.Engine, results ResultSink, opts Options) *Pipeline {
	opts.setDefaults()
	return &Pipeline{
		client:  client,
		gate:    gate,
		engine:  engine,
		results: results,
		opts:    opts,
	}
}

// WithPerf attaches a throughput recorder.
func (p *Pipeline) WithPerf(r *report.Recorder) *Pipeline {
	p.perf = r
	return p
}

// WithStreams attaches the run's log streams.
func (p *Pipeline) WithStreams(s *logging.Streams) *Pipeline {
	p.streams = s
	return p
}

// DateSummary is the outcome of one analysis date.
type DateSummary struct {
	Date             time.Time
	State            State
	Candidates       int
	Processed        int
	SkippedStatement int
	SkippedPrice     int
	Inconsistent     int
	Failed           int
	Elapsed          time.Duration

	// Accepted holds the written candidate rows, sorted by code.
	Accepted []models.NetNetCandidate
}

// RunSummary aggregates a whole run.
type RunSummary struct {
	Universe int
	Dates    []DateSummary
	Elapsed  time.Duration
}

// TotalCandidates sums accepted candidates across all dates.
func (s RunSummary) TotalCandidates() int {
	n := 0
	for _, d := range s.Dates {
		n += d.Candidates
	}
	return n
}

// TotalFailed sums task failures across all dates.
func (s RunSummary) TotalFailed() int {
	n := 0
	for _, d := range s.Dates {
		n += d.Failed
	}
	return n
}

// HadErrors reports whether any date finished degraded.
func (s RunSummary) HadErrors() bool {
	for _, d := range s.Dates {
		if d.State == StateDoneWithErrors {
			return true
		}
	}
	return false
}

// Run fetches the ticker universe once and screens every date against
// it. The universe fetch is the only fatal error; each date's own
// problems degrade that date and the run moves on.
func (p *Pipeline) Run(ctx context.Context, dates []time.Time) (RunSummary, error) {
	universe, err := p.client.ListTickers(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("fetch ticker universe: %w", err)
	}
	p.streams.UniverseFetched(len(universe))
	return p.RunWithUniverse(ctx, universe, dates)
}

// RunWithUniverse screens the dates against an already-fetched
// universe, for callers that hold a cached one. The returned error is
// non-nil only when the run was cut short by ctx.
func (p *Pipeline) RunWithUniverse(ctx context.Context, universe []models.Ticker, dates []time.Time) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{Universe: len(universe)}
	for _, date := range dates {
		summary.Dates = append(summary.Dates, p.runDate(ctx, date, universe))
		if ctx.Err() != nil {
			break
		}
	}
	summary.Elapsed = time.Since(start)
	return summary, ctx.Err()
}

// runDate fans the universe out under the gate, aggregates the
// accepted candidates, and writes the date's artifacts. It never
// returns an error: every outcome is a summary.
func (p *Pipeline) runDate(ctx context.Context, date time.Time, universe []models.Ticker) DateSummary {
	start := time.Now()
	ds := DateSummary{Date: date, State: StatePending}
	// The universe is fetched once per run, so this phase is a cache
	// hit for every date after the first.
	p.transition(&ds, date, StateFetchingUniverse)
	p.transition(&ds, date, StateFanningOut)

	var processed atomic.Int64
	stopPerf := p.perf.Start(date, p.gate.Limit(), func() int { return int(processed.Load()) })

	var (
		mu         sync.Mutex
		candidates []models.NetNetCandidate
		noQuote    []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, tk := range universe {
		tk := tk
		g.Go(func() error {
			if err := p.gate.Acquire(gctx); err != nil {
				return err
			}
			defer p.gate.Release()

			res := p.evaluate(gctx, tk, date)
			processed.Add(1)

			mu.Lock()
			defer mu.Unlock()
			switch res.outcome {
			case outcomeCandidate:
				candidates = append(candidates, res.candidate)
			case outcomeRejected:
				// Screened and priced out; nothing to record.
			case outcomeNoStatement:
				ds.SkippedStatement++
			case outcomeNoPrice:
				ds.SkippedPrice++
				noQuote = append(noQuote, tk.Code)
			case outcomeInconsistent:
				ds.Inconsistent++
			case outcomeFailed:
				ds.Failed++
			}
			return nil
		})
	}
	waitErr := g.Wait()

	p.transition(&ds, date, StateAggregating)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Code < candidates[j].Code })
	sort.Strings(noQuote)
	ds.Candidates = len(candidates)
	ds.Accepted = candidates
	ds.Processed = int(processed.Load())

	wroteOK := waitErr == nil
	if wroteOK {
		if err := p.results.WriteCandidates(date, candidates); err != nil {
			wroteOK = false
			ds.Failed++
			p.streams.WriteFailure(date, err)
		} else if err := p.results.WriteNoQuote(date, noQuote); err != nil {
			wroteOK = false
			ds.Failed++
			p.streams.WriteFailure(date, err)
		}
	}
	if wroteOK {
		p.transition(&ds, date, StateWritten)
	}

	if err := stopPerf(); err != nil && p.streams != nil {
		p.streams.App.Warn().Err(err).Msg("performance log write failed")
	}

	final := StateDone
	if ds.Failed > 0 || waitErr != nil {
		final = StateDoneWithErrors
	}
	p.transition(&ds, date, final)
	ds.Elapsed = time.Since(start)
	p.streams.DateDone(date, string(ds.State), ds.Candidates, ds.Processed, ds.Failed)
	return ds
}

func (p *Pipeline) transition(ds *DateSummary, date time.Time, to State) {
	p.streams.StateChange(date, string(ds.State), string(to))
	ds.State = to
}

type outcome int

const (
	outcomeCandidate outcome = iota
	outcomeRejected
	outcomeNoStatement
	outcomeNoPrice
	outcomeInconsistent
	outcomeFailed
)

type evalResult struct {
	outcome   outcome
	candidate models.NetNetCandidate
}

// evaluate runs one ticker through statement resolve, price resolve,
// and the screen. A panic is contained here: the ticker fails, the
// date survives.
func (p *Pipeline) evaluate(ctx context.Context, tk models.Ticker, date time.Time) (res evalResult) {
	defer func() {
		if r := recover(); r != nil {
			p.streams.TaskFailure(tk.Code, date, fmt.Errorf("panic: %v", r))
			res = evalResult{outcome: outcomeFailed}
		}
	}()

	stmtFrom, stmtTo := lookback.StatementRange(date, p.opts.StatementLookbackDays)
	stmts, err := p.client.GetStatements(ctx, tk.Code, stmtFrom, stmtTo)
	if err != nil {
		p.streams.TaskFailure(tk.Code, date, err)
		return evalResult{outcome: outcomeFailed}
	}
	stmt, err := lookback.Statement(stmts, date, p.opts.StatementLookbackDays)
	if err != nil {
		if errors.Is(err, lookback.ErrNotFound) {
			p.streams.SkipStatement(tk.Code, date)
			return evalResult{outcome: outcomeNoStatement}
		}
		p.streams.TaskFailure(tk.Code, date, err)
		return evalResult{outcome: outcomeFailed}
	}

	barFrom, barTo := lookback.PriceRange(date, p.opts.OHLCLookbackDays)
	bars, err := p.client.GetOHLC(ctx, tk.Code, barFrom, barTo)
	if err != nil {
		p.streams.TaskFailure(tk.Code, date, err)
		return evalResult{outcome: outcomeFailed}
	}
	bar, err := lookback.Price(bars, date, p.opts.OHLCLookbackDays)
	if err != nil {
		if errors.Is(err, lookback.ErrNotFound) {
			p.streams.SkipPrice(tk.Code, date)
			return evalResult{outcome: outcomeNoPrice}
		}
		p.streams.TaskFailure(tk.Code, date, err)
		return evalResult{outcome: outcomeFailed}
	}

	cand, err := p.engine.Evaluate(stmt, bar, date)
	switch {
	case err == nil:
		return evalResult{outcome: outcomeCandidate, candidate: cand}
	case errors.Is(err, ncav.ErrNotNetNet), errors.Is(err, ncav.ErrNonPositiveNCAVPS):
		return evalResult{outcome: outcomeRejected}
	case errors.Is(err, ncav.ErrNonPositiveShares):
		p.streams.Inconsistency(tk.Code, date, err)
		return evalResult{outcome: outcomeInconsistent}
	default:
		var inc *models.InconsistencyError
		if errors.As(err, &inc) {
			p.streams.Inconsistency(tk.Code, date, err)
			return evalResult{outcome: outcomeInconsistent}
		}
		p.streams.TaskFailure(tk.Code, date, err)
		return evalResult{outcome: outcomeFailed}
	}
}

// Package logging wires the run's log streams: application events,
// raw transport traces, and unhandled errors each go to their own file
// so skip reasons and failures stay separately greppable, with the app
// stream mirrored to the console for interactive runs.
package logging

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/phuslu/log"
)

// Streams carries the per-run loggers. Every entry is stamped with the
// run ID. A nil *Streams is a valid no-op sink, so callers never need
// to guard their logging.
type Streams struct {
	RunID string

	// App records pipeline lifecycle: state transitions, skip events,
	// run summaries. Mirrored to the console.
	App log.Logger

	// Transport records one entry per HTTP call, emitted by the market
	// data client's response hook.
	Transport log.Logger

	// Errors records unhandled per-ticker failures and data
	// inconsistencies with ticker/date context.
	Errors log.Logger

	appFile       *log.FileWriter
	transportFile *log.FileWriter
	errorFile     *log.FileWriter
}

// New opens the three file-backed streams under dir, naming each file
// after the run. The app and error streams are mirrored to the console
// for interactive runs.
func New(dir, runID, level string) (*Streams, error) {
	if runID == "" {
		return nil, fmt.Errorf("logging: empty run ID")
	}

	lvl := parseLevel(level)
	ctx := log.NewContext(nil).Str("run_id", runID).Value()

	s := &Streams{
		RunID: runID,
		appFile: &log.FileWriter{
			Filename:     filepath.Join(dir, "app_"+runID+".log"),
			EnsureFolder: true,
			LocalTime:    true,
		},
		transportFile: &log.FileWriter{
			Filename:     filepath.Join(dir, "transport_"+runID+".log"),
			EnsureFolder: true,
			LocalTime:    true,
		},
		errorFile: &log.FileWriter{
			Filename:     filepath.Join(dir, "errors_"+runID+".log"),
			EnsureFolder: true,
			LocalTime:    true,
		},
	}

	console := &log.ConsoleWriter{ColorOutput: true, EndWithMessage: true}

	s.App = log.Logger{
		Level:   lvl,
		Context: ctx,
		Writer:  &log.MultiEntryWriter{s.appFile, console},
	}
	s.Transport = log.Logger{
		Level:   lvl,
		Context: ctx,
		Writer:  s.transportFile,
	}
	s.Errors = log.Logger{
		Level:   lvl,
		Context: ctx,
		Writer:  &log.MultiEntryWriter{s.errorFile, console},
	}

	return s, nil
}

// Close flushes and closes the file streams.
func (s *Streams) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	for _, w := range []*log.FileWriter{s.appFile, s.transportFile, s.errorFile} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StateChange records one analysis date's pipeline state transition.
func (s *Streams) StateChange(date time.Time, from, to string) {
	if s == nil {
		return
	}
	s.App.Debug().
		Str("analysis_date", date.Format("2006-01-02")).
		Str("from", from).
		Str("to", to).
		Msg("state transition")
}

// SkipStatement records that no financial statement was usable for the
// ticker on the analysis date. Expected, not a failure.
func (s *Streams) SkipStatement(code string, date time.Time) {
	if s == nil {
		return
	}
	s.App.Info().
		Str("ticker", code).
		Str("analysis_date", date.Format("2006-01-02")).
		Str("reason", "statement_not_found").
		Msg("ticker skipped")
}

// SkipPrice records that no traded close was found inside the lookback
// window. Kept distinct from SkipStatement so the two miss kinds stay
// separable downstream.
func (s *Streams) SkipPrice(code string, date time.Time) {
	if s == nil {
		return
	}
	s.App.Info().
		Str("ticker", code).
		Str("analysis_date", date.Format("2006-01-02")).
		Str("reason", "ohlc_not_found").
		Msg("ticker skipped")
}

// Inconsistency records malformed upstream data; the ticker is excluded
// but the run continues.
func (s *Streams) Inconsistency(code string, date time.Time, err error) {
	if s == nil {
		return
	}
	s.Errors.Warn().
		Str("ticker", code).
		Str("analysis_date", date.Format("2006-01-02")).
		Err(err).
		Msg("data inconsistency")
}

// TaskFailure records an unexpected error caught at a ticker task
// boundary. Only the affected ticker is excluded.
func (s *Streams) TaskFailure(code string, date time.Time, err error) {
	if s == nil {
		return
	}
	s.Errors.Error().
		Str("ticker", code).
		Str("analysis_date", date.Format("2006-01-02")).
		Err(err).
		Msg("ticker task failed")
}

// WriteFailure records a failed attempt to persist a date's results.
func (s *Streams) WriteFailure(date time.Time, err error) {
	if s == nil {
		return
	}
	s.Errors.Error().
		Str("analysis_date", date.Format("2006-01-02")).
		Err(err).
		Msg("result write failed")
}

// UniverseFetched records the size of the ticker universe for a run.
func (s *Streams) UniverseFetched(n int) {
	if s == nil {
		return
	}
	s.App.Info().Int("tickers", n).Msg("ticker universe fetched")
}

// DateDone records one analysis date's final tallies.
func (s *Streams) DateDone(date time.Time, state string, candidates, processed, failed int) {
	if s == nil {
		return
	}
	s.App.Info().
		Str("analysis_date", date.Format("2006-01-02")).
		Str("state", state).
		Int("candidates", candidates).
		Int("processed", processed).
		Int("failed", failed).
		Msg("analysis date finished")
}

// parseLevel wraps log.ParseLevel, defaulting empty or unrecognized
// values to info.
func parseLevel(level string) log.Level {
	if lvl := log.ParseLevel(level); lvl >= log.TraceLevel && lvl <= log.PanicLevel {
		return lvl
	}
	return log.InfoLevel
}

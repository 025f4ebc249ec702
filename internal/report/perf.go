package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/kawazu256/netnet/pkg/utils"
)

var perfHeader = []string{
	"analysis_date",
	"semaphore_limit",
	"tickers_processed",
	"duration_seconds",
	"tickers_per_minute",
	"run_id",
}

// Recorder appends throughput samples to performance_log.csv. The log
// accumulates across runs; the run_id column ties rows back to the
// run that produced them. A nil *Recorder is a no-op, so callers can
// leave performance logging unwired.
type Recorder struct {
	mu       sync.Mutex
	f        *os.File
	w        *csv.Writer
	runID    string
	interval time.Duration
}

// NewRecorder opens or creates performance_log.csv under dir. The
// header is written only when the file is new or empty.
func NewRecorder(dir, runID string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create perf dir: %w", err)
	}
	path := filepath.Join(dir, "performance_log.csv")

	fi, statErr := os.Stat(path)
	needHeader := statErr != nil || fi.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open perf log: %w", err)
	}

	r := &Recorder{
		f:        f,
		w:        csv.NewWriter(f),
		runID:    runID,
		interval: time.Minute,
	}
	if needHeader {
		if err := r.writeRow(perfHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write perf header: %w", err)
		}
	}
	return r, nil
}

// SetInterval overrides the sampling cadence. The default is one
// minute.
func (r *Recorder) SetInterval(d time.Duration) {
	if r == nil || d <= 0 {
		return
	}
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

// Start begins sampling progress for one analysis date. processed is
// polled from the sampling goroutine and must be safe for concurrent
// use. The returned stop function writes the final row for the date
// and must be called exactly once.
func (r *Recorder) Start(date time.Time, limit int, processed func() int) (stop func() error) {
	if r == nil {
		return func() error { return nil }
	}
	r.mu.Lock()
	interval := r.interval
	r.mu.Unlock()

	start := time.Now()
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sample(date, limit, processed(), time.Since(start))
			case <-done:
				return
			}
		}
	}()
	return func() error {
		close(done)
		<-finished
		return r.sample(date, limit, processed(), time.Since(start))
	}
}

func (r *Recorder) sample(date time.Time, limit, processed int, elapsed time.Duration) error {
	secs := elapsed.Seconds()
	perMin := 0.0
	if secs > 0 {
		perMin = float64(processed) / secs * 60
	}
	return r.writeRow([]string{
		utils.FormatDate(date),
		strconv.Itoa(limit),
		strconv.Itoa(processed),
		strconv.FormatFloat(secs, 'f', 1, 64),
		strconv.FormatFloat(perMin, 'f', 1, 64),
		r.runID,
	})
}

func (r *Recorder) writeRow(row []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	if err := r.w.Write(row); err != nil {
		return err
	}
	r.w.Flush()
	return r.w.Error()
}

// Close flushes and closes the log. Samples after Close are dropped.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	r.w.Flush()
	err := r.w.Error()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	r.f = nil
	return err
}

package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readPerfLog(t *testing.T, dir string) [][]string {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "performance_log.csv"))
	if err != nil {
		t.Fatalf("open perf log: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read perf log: %v", err)
	}
	return rows
}

func TestRecorderWritesFinalRow(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, "20151221_090000_abcd1234")
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer r.Close()

	stop := r.Start(date(t, "2015-12-21"), 5, func() int { return 42 })
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	rows := readPerfLog(t, dir)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header plus final row", len(rows))
	}
	if strings.Join(rows[0], ",") != "analysis_date,semaphore_limit,tickers_processed,duration_seconds,tickers_per_minute,run_id" {
		t.Errorf("header: %v", rows[0])
	}
	final := rows[1]
	if final[0] != "2015-12-21" || final[1] != "5" || final[2] != "42" {
		t.Errorf("final row: %v", final)
	}
	if final[5] != "20151221_090000_abcd1234" {
		t.Errorf("run_id column: %q", final[5])
	}
}

func TestRecorderSamplesPeriodically(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, "run-1")
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer r.Close()
	r.SetInterval(20 * time.Millisecond)

	stop := r.Start(date(t, "2015-12-21"), 5, func() int { return 10 })
	time.Sleep(120 * time.Millisecond)
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	rows := readPerfLog(t, dir)
	// Header, at least two periodic samples, and the final row.
	if len(rows) < 4 {
		t.Errorf("got %d rows, want periodic samples plus final row", len(rows))
	}
}

func TestRecorderAppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	r1, err := NewRecorder(dir, "run-1")
	if err != nil {
		t.Fatalf("first NewRecorder: %v", err)
	}
	stop := r1.Start(date(t, "2015-12-21"), 5, func() int { return 1 })
	if err := stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := r1.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	r2, err := NewRecorder(dir, "run-2")
	if err != nil {
		t.Fatalf("second NewRecorder: %v", err)
	}
	stop = r2.Start(date(t, "2016-12-21"), 5, func() int { return 2 })
	if err := stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := r2.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	rows := readPerfLog(t, dir)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want one header and two data rows", len(rows))
	}
	if rows[1][5] != "run-1" || rows[2][5] != "run-2" {
		t.Errorf("run ids: %q, %q", rows[1][5], rows[2][5])
	}
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	stop := r.Start(time.Now(), 5, func() int { return 0 })
	if err := stop(); err != nil {
		t.Errorf("nil recorder stop: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("nil recorder Close: %v", err)
	}
	r.SetInterval(time.Second)
}

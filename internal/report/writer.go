// Package report writes the per-date screening artifacts: the
// candidate CSVs, the no-quote lists, and the throughput log used to
// tune the concurrency limit.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kawazu256/netnet/pkg/models"
	"github.com/kawazu256/netnet/pkg/utils"
)

// resultHeader is the column order of a screening CSV.
var resultHeader = []string{
	"ticker",
	"analysis_date",
	"ncavps",
	"share_price",
	"mos_rate",
	"ncav_date",
	"st_disclosure_date",
	"fs_st_skew_days",
}

// ResultWriter writes one CSV per analysis date under dir. Writes are
// atomic (temp file then rename) so readers never observe a partial
// file, and rewriting the same inputs produces identical bytes.
type ResultWriter struct {
	dir string
}

func NewResultWriter(dir string) *ResultWriter {
	return &ResultWriter{dir: dir}
}

// ResultPath returns where the date's candidate CSV lives.
func (w *ResultWriter) ResultPath(date time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("netnet_%s.csv", utils.FormatDate(date)))
}

// NoQuotePath returns where the date's no-quote list lives.
func (w *ResultWriter) NoQuotePath(date time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("no_ohlc_found_%s.txt", utils.FormatDate(date)))
}

// WriteCandidates writes the date's accepted candidates sorted by
// ticker code. A date with no candidates still gets a header-only
// file, so downstream consumers can tell "screened, nothing found"
// from "never screened". Prices and ratios are written with two
// decimal places, dates as YYYY-MM-DD.
func (w *ResultWriter) WriteCandidates(date time.Time, cands []models.NetNetCandidate) error {
	sorted := make([]models.NetNetCandidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	rows := make([][]string, 0, len(sorted)+1)
	rows = append(rows, resultHeader)
	for _, c := range sorted {
		rows = append(rows, []string{
			c.Code,
			utils.FormatDate(c.AnalysisDate),
			c.NCAVPS.StringFixed(2),
			c.SharePrice.StringFixed(2),
			c.MOSRate.StringFixed(2),
			utils.FormatDate(c.NCAVDate),
			utils.FormatDate(c.STDisclosureDate),
			strconv.Itoa(c.SkewDays),
		})
	}
	return w.writeCSV(w.ResultPath(date), rows)
}

// WriteNoQuote records the tickers that had no close anywhere in the
// lookback window, one code per line, sorted. A date where every
// ticker traded produces no file at all.
func (w *ResultWriter) WriteNoQuote(date time.Time, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	path := w.NoQuotePath(date)
	tmp, err := os.CreateTemp(w.dir, ".noquote-*.txt")
	if err != nil {
		return fmt.Errorf("create temp no-quote file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strings.Join(sorted, "\n") + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write no-quote list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close no-quote file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace no-quote file: %w", err)
	}
	return nil
}

func (w *ResultWriter) writeCSV(path string, rows [][]string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	tmp, err := os.CreateTemp(w.dir, ".netnet-*.csv")
	if err != nil {
		return fmt.Errorf("create temp result file: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("write result row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush result file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close result file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace result file: %w", err)
	}
	return nil
}

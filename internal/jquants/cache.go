package jquants

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kawazu256/netnet/pkg/models"
	"github.com/kawazu256/netnet/pkg/utils"
)

// UniverseCache keeps the listed-ticker universe in memory with a TTL
// so scheduled runs close together skip a full listing crawl. Safe for
// concurrent use.
type UniverseCache struct {
	mu      sync.RWMutex
	tickers []models.Ticker
	fetched time.Time
	ttl     time.Duration
}

// NewUniverseCache creates a cache that considers entries stale after
// ttl.
func NewUniverseCache(ttl time.Duration) *UniverseCache {
	return &UniverseCache{ttl: ttl}
}

// Get returns the cached universe, or false when empty or expired.
func (c *UniverseCache) Get() ([]models.Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tickers == nil || time.Since(c.fetched) > c.ttl {
		return nil, false
	}
	return c.tickers, true
}

// Set replaces the cached universe and restarts the TTL clock.
func (c *UniverseCache) Set(tickers []models.Ticker) {
	c.mu.Lock()
	c.tickers = tickers
	c.fetched = time.Now()
	c.mu.Unlock()
}

// Invalidate empties the cache.
func (c *UniverseCache) Invalidate() {
	c.mu.Lock()
	c.tickers = nil
	c.mu.Unlock()
}

// SaveUniverse writes the universe to path as a code,name,market CSV.
// The write is atomic so a crash never leaves a truncated file behind.
func SaveUniverse(path string, tickers []models.Ticker) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create universe dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tickers-*.csv")
	if err != nil {
		return fmt.Errorf("create temp universe file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write([]string{"code", "name", "market"}); err != nil {
		tmp.Close()
		return fmt.Errorf("write universe header: %w", err)
	}
	for _, t := range tickers {
		if err := w.Write([]string{t.Code, t.Name, t.Market}); err != nil {
			tmp.Close()
			return fmt.Errorf("write universe row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush universe file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close universe file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace universe file: %w", err)
	}
	return nil
}

// LoadUniverse reads a universe CSV written by SaveUniverse. Codes are
// normalized to the 5-character J-Quants form, so a hand-maintained
// file may list the familiar 4-digit codes. A row whose code does not
// normalize to a valid JPX code fails the load; callers treat any
// error as a cache miss and refetch.
func LoadUniverse(path string) ([]models.Ticker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read universe file %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("universe file %s is empty", path)
	}

	tickers := make([]models.Ticker, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 3 {
			return nil, fmt.Errorf("universe file %s has a malformed row", path)
		}
		code := utils.NormalizeCode(row[0])
		if !utils.IsValidCode(code) {
			return nil, fmt.Errorf("universe file %s has an invalid code %q", path, row[0])
		}
		tickers = append(tickers, models.Ticker{Code: code, Name: row[1], Market: row[2]})
	}
	return tickers, nil
}

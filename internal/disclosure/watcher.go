// Package disclosure watches corporate disclosure feeds (TDnet
// mirrors and similar RSS/Atom sources) and surfaces new filings for
// listed companies.
package disclosure

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/phuslu/log"

	"github.com/kawazu256/netnet/pkg/utils"
)

// Filing is one disclosure feed entry tied to a listed company. Code
// is the 5-character J-Quants local code, empty when no securities
// code could be extracted.
type Filing struct {
	Code      string
	Title     string
	Summary   string
	Link      string
	Published time.Time
}

// Watcher polls a disclosure feed and yields entries it has not seen
// before. Entries are deduplicated by GUID (falling back to link) for
// the lifetime of the watcher.
type Watcher struct {
	feedURL  string
	parser   *gofeed.Parser
	interval time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// NewWatcher creates a watcher for feedURL. Intervals at or below zero
// fall back to five minutes.
func NewWatcher(feedURL string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Watcher{
		feedURL:  feedURL,
		parser:   gofeed.NewParser(),
		interval: interval,
		seen:     make(map[string]bool),
	}
}

// WithLogger attaches a logger for poll failures in Watch.
func (w *Watcher) WithLogger(l *log.Logger) *Watcher {
	w.logger = l
	return w
}

// Securities codes appear either bracketed, "（7203）" or "[72030]",
// or as the leading token of the title.
var (
	bracketedCode = regexp.MustCompile(`[（(\[【]\s*([0-9]{4}[0-9A-Z]?)\s*[）)\]】]`)
	leadingCode   = regexp.MustCompile(`^([0-9]{4}[0-9A-Z]?)\b`)
)

// extractCode pulls a securities code out of feed text and normalizes
// it to the 5-character form. Returns "" when nothing matches.
func extractCode(s string) string {
	s = strings.TrimSpace(s)
	if m := bracketedCode.FindStringSubmatch(s); m != nil {
		return utils.NormalizeCode(m[1])
	}
	if m := leadingCode.FindStringSubmatch(s); m != nil {
		return utils.NormalizeCode(m[1])
	}
	return ""
}

// cleanDescription strips markup from a feed item description,
// collapsing whitespace runs to single spaces.
func cleanDescription(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Poll fetches the feed once and returns the entries not seen before,
// oldest first.
func (w *Watcher) Poll(ctx context.Context) ([]Filing, error) {
	feed, err := w.parser.ParseURLWithContext(w.feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", w.feedURL, err)
	}

	var filings []Filing
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, item := range feed.Items {
		key := item.GUID
		if key == "" {
			key = item.Link
		}
		if key == "" || w.seen[key] {
			continue
		}
		w.seen[key] = true

		summary := cleanDescription(item.Description)
		code := extractCode(item.Title)
		if code == "" {
			code = extractCode(summary)
		}
		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		}
		filings = append(filings, Filing{
			Code:      code,
			Title:     strings.TrimSpace(item.Title),
			Summary:   summary,
			Link:      item.Link,
			Published: published,
		})
	}
	sort.Slice(filings, func(i, j int) bool { return filings[i].Published.Before(filings[j].Published) })
	return filings, nil
}

// Watch polls until ctx is done, invoking fn for every new filing.
// The first poll happens immediately; feed errors are logged and the
// loop keeps going.
func (w *Watcher) Watch(ctx context.Context, fn func(Filing)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		filings, err := w.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if w.logger != nil {
				w.logger.Warn().Str("feed", w.feedURL).Err(err).Msg("feed poll failed")
			}
		}
		for _, f := range filings {
			fn(f)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

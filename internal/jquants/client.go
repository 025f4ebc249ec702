// Package jquants is the J-Quants v1 API client: token lifecycle,
// request pacing, pagination, and conversion of wire rows into the
// models types.
package jquants

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"github.com/kawazu256/netnet/pkg/models"
	"github.com/kawazu256/netnet/pkg/utils"
)

// ErrNotFound is returned when the API has no records for the query.
var ErrNotFound = fmt.Errorf("jquants: no records found")

// ErrUnauthorized is returned when a request still gets 401 after the
// token has been refreshed, meaning the credentials themselves are bad.
var ErrUnauthorized = fmt.Errorf("jquants: unauthorized")

// ErrNoCredentials is returned when a token must be minted but neither
// a refresh token nor an email/password pair is configured.
var ErrNoCredentials = fmt.Errorf("jquants: no credentials configured")

// HTTPError reports an unexpected non-2xx response.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("jquants: %s returned %d", e.URL, e.Status)
}

// TokenStore persists refreshed tokens so later runs skip the password
// flow. Persist failures are logged, not fatal.
type TokenStore interface {
	SaveTokens(idToken, refreshToken string) error
}

// Options configures a Client. Zero values fall back to production
// defaults.
type Options struct {
	BaseURL      string
	Email        string
	Password     string
	IDToken      string
	RefreshToken string

	// RequestsPerSec paces all outgoing calls. Default 4.
	RequestsPerSec float64
	// RetryCount retries transient failures (5xx, 429, transport
	// errors). Default 2.
	RetryCount int
	Timeout    time.Duration

	Store     TokenStore
	Transport *log.Logger
	Errors    *log.Logger
}

// Client talks to the J-Quants REST API. Safe for concurrent use; the
// only mutable state is the token pair, guarded by mu.
type Client struct {
	http      *resty.Client
	limiter   *rate.Limiter
	store     TokenStore
	transport *log.Logger
	errlog    *log.Logger

	mu           sync.RWMutex
	idToken      string
	refreshToken string
	email        string
	password     string
}

// New creates a client. The rate limiter and retry policy are fixed at
// construction; concurrency limits are imposed by the caller.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.jquants.com"
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 4
	}
	if opts.RetryCount == 0 {
		opts.RetryCount = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	c := &Client{
		limiter:      rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burstFor(opts.RequestsPerSec)),
		store:        opts.Store,
		transport:    opts.Transport,
		errlog:       opts.Errors,
		idToken:      opts.IDToken,
		refreshToken: opts.RefreshToken,
		email:        opts.Email,
		password:     opts.Password,
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError ||
				r.StatusCode() == http.StatusTooManyRequests
		})
	if c.transport != nil {
		hc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			c.transport.Debug().
				Str("method", resp.Request.Method).
				Str("url", sanitizeURL(resp.Request.URL)).
				Int("status", resp.StatusCode()).
				Dur("elapsed", resp.Time()).
				Msg("api response")
			return nil
		})
	}
	c.http = hc
	return c
}

func burstFor(rps float64) int {
	b := int(rps)
	if b < 1 {
		b = 1
	}
	return b
}

// sanitizeURL masks the refresh token before a URL reaches a log line.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("refreshtoken") {
		q.Set("refreshtoken", "***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// --- Token lifecycle ---

// token returns a usable ID token, minting one on first use.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.idToken
	c.mu.RUnlock()
	if tok != "" {
		return tok, nil
	}
	return c.freshToken(ctx, "")
}

// freshToken mints a new ID token. stale is the token that was just
// rejected, so a caller racing a refresh done by another goroutine
// reuses the newer token instead of refreshing twice.
func (c *Client) freshToken(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idToken != "" && c.idToken != stale {
		return c.idToken, nil
	}

	if c.refreshToken != "" {
		tok, err := c.authRefresh(ctx, c.refreshToken)
		if err == nil {
			c.setTokensLocked(tok, c.refreshToken)
			return tok, nil
		}
		if !errors.Is(err, ErrUnauthorized) {
			return "", err
		}
		// Refresh token expired; fall through to the password flow.
	}

	if c.email == "" || c.password == "" {
		return "", ErrNoCredentials
	}
	refresh, err := c.authUser(ctx)
	if err != nil {
		return "", err
	}
	tok, err := c.authRefresh(ctx, refresh)
	if err != nil {
		return "", err
	}
	c.setTokensLocked(tok, refresh)
	return tok, nil
}

func (c *Client) setTokensLocked(idToken, refreshToken string) {
	c.idToken = idToken
	c.refreshToken = refreshToken
	if c.store == nil {
		return
	}
	if err := c.store.SaveTokens(idToken, refreshToken); err != nil && c.errlog != nil {
		c.errlog.Warn().Err(err).Msg("failed to persist refreshed tokens")
	}
}

// authUser exchanges email and password for a refresh token.
func (c *Client) authUser(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"mailaddress": c.email, "password": c.password}).
		SetResult(&out).
		Post("/v1/token/auth_user")
	if err != nil {
		return "", fmt.Errorf("auth_user: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.IsError() {
		return "", &HTTPError{Status: resp.StatusCode(), URL: resp.Request.URL}
	}
	if out.RefreshToken == "" {
		return "", fmt.Errorf("auth_user: response carried no refresh token")
	}
	return out.RefreshToken, nil
}

// authRefresh exchanges a refresh token for an ID token.
func (c *Client) authRefresh(ctx context.Context, refresh string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("refreshtoken", refresh).
		SetResult(&out).
		Post("/v1/token/auth_refresh")
	if err != nil {
		return "", fmt.Errorf("auth_refresh: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.IsError() {
		return "", &HTTPError{Status: resp.StatusCode(), URL: resp.Request.URL}
	}
	if out.IDToken == "" {
		return "", fmt.Errorf("auth_refresh: response carried no id token")
	}
	return out.IDToken, nil
}

// --- Request plumbing ---

// get performs an authenticated GET. On the first 401 the token is
// refreshed and the request replayed once; a second 401 means the
// credentials are bad.
func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}

	resp, err := c.doGet(ctx, path, query, tok, out)
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		if tok, err = c.freshToken(ctx, tok); err != nil {
			return err
		}
		if resp, err = c.doGet(ctx, path, query, tok, out); err != nil {
			return err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return ErrUnauthorized
		}
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return ErrNotFound
	case resp.IsError():
		return &HTTPError{Status: resp.StatusCode(), URL: resp.Request.URL}
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, query map[string]string, tok string, out any) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetResult(out)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

// --- Data endpoints ---

// ListTickers returns all listed common stocks sorted by code. PRO
// Market listings and non-equity products (ETFs, REITs and the like)
// are excluded.
func (c *Client) ListTickers(ctx context.Context) ([]models.Ticker, error) {
	var (
		tickers []models.Ticker
		page    string
	)
	for {
		query := map[string]string{}
		if page != "" {
			query["pagination_key"] = page
		}
		var out listedInfoResponse
		if err := c.get(ctx, "/v1/listed/info", query, &out); err != nil {
			return nil, err
		}
		for _, li := range out.Info {
			if !li.isCommonStock() {
				continue
			}
			tickers = append(tickers, li.toTicker())
		}
		if out.PaginationKey == "" {
			break
		}
		page = out.PaginationKey
	}
	sort.Slice(tickers, func(i, j int) bool { return tickers[i].Code < tickers[j].Code })
	return tickers, nil
}

// GetStatements returns the statements for code disclosed within
// [from, to], oldest first. Balance-sheet rows from fs_details are
// merged with their same-day statements summary row; rows that fail
// validation are logged and dropped. A code with no filings yields an
// empty slice, not an error.
func (c *Client) GetStatements(ctx context.Context, code string, from, to time.Time) ([]models.FinancialStatement, error) {
	details, err := c.fsDetails(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	stmts, err := c.statements(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	merged, dropped := mergeStatements(code, details, stmts)
	if c.errlog != nil {
		for _, derr := range dropped {
			c.errlog.Warn().Str("code", code).Err(derr).Msg("statement dropped")
		}
	}

	// fs_details ignores date ranges on code queries, so the window is
	// applied here.
	var inWindow []models.FinancialStatement
	for _, st := range merged {
		if st.DisclosureDate.Before(from) || st.DisclosureDate.After(to) {
			continue
		}
		inWindow = append(inWindow, st)
	}
	return inWindow, nil
}

func (c *Client) fsDetails(ctx context.Context, code string) ([]fsDetailRecord, error) {
	var (
		all  []fsDetailRecord
		page string
	)
	for {
		query := map[string]string{"code": code}
		if page != "" {
			query["pagination_key"] = page
		}
		var out fsDetailsResponse
		if err := c.get(ctx, "/v1/fins/fs_details", query, &out); err != nil {
			return nil, err
		}
		all = append(all, out.FsDetails...)
		if out.PaginationKey == "" {
			return all, nil
		}
		page = out.PaginationKey
	}
}

func (c *Client) statements(ctx context.Context, code string) ([]statementRecord, error) {
	var (
		all  []statementRecord
		page string
	)
	for {
		query := map[string]string{"code": code}
		if page != "" {
			query["pagination_key"] = page
		}
		var out statementsResponse
		if err := c.get(ctx, "/v1/fins/statements", query, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Statements...)
		if out.PaginationKey == "" {
			return all, nil
		}
		page = out.PaginationKey
	}
}

// GetOHLC returns daily closes for code within [from, to], oldest
// first. Days with a null close (no trades) are omitted, as is the
// whole range when the API has no rows for it.
func (c *Client) GetOHLC(ctx context.Context, code string, from, to time.Time) ([]models.OHLCRecord, error) {
	var (
		recs []models.OHLCRecord
		page string
	)
	for {
		query := map[string]string{
			"code": code,
			"from": utils.FormatDate(from),
			"to":   utils.FormatDate(to),
		}
		if page != "" {
			query["pagination_key"] = page
		}
		var out dailyQuotesResponse
		if err := c.get(ctx, "/v1/prices/daily_quotes", query, &out); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		for _, q := range out.DailyQuotes {
			if rec, ok := q.toOHLC(); ok {
				recs = append(recs, rec)
			}
		}
		if out.PaginationKey == "" {
			break
		}
		page = out.PaginationKey
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].TradeDate.Before(recs[j].TradeDate) })
	return recs, nil
}

// Package oddsapi is a thin façade over the upstream odds feed (The Odds
// API wire shape, see spec.md §6): request construction, quota
// observation, response normalisation, and error classification.
package oddsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/telemetry"
)

const requestTimeout = 30 * time.Second

// Config is the façade's request shape, built once at startup and passed
// explicitly (spec.md §9 — no process-wide mutable singleton).
type Config struct {
	BaseURL    string // defaults to https://api.the-odds-api.com/v4
	APIKey     string
	Regions    string // CSV, e.g. "us,us2"
	Markets    string // CSV subset of h2h,spreads,totals
	OddsFormat odds.Format
}

// Client fetches the sports catalogue and per-sport odds pages from the
// upstream feed, normalising heterogeneous price formats and classifying
// errors for the scheduler's retry policy.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a Client. The limiter paces outbound requests to one per
// 500ms with a small burst, independent of the upstream-reported quota —
// quota exhaustion is still classified and surfaced by GetOdds.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.the-odds-api.com/v4"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
	}
}

// ListSports returns the upstream sport catalogue.
func (c *Client) ListSports(ctx context.Context) ([]odds.Sport, error) {
	body, _, err := c.get(ctx, "/sports", url.Values{
		"apiKey": {c.cfg.APIKey},
	})
	if err != nil {
		return nil, err
	}

	var raw []sportPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode sports catalogue: %v", odds.ErrInvalidPayload, err)
	}

	out := make([]odds.Sport, 0, len(raw))
	for _, s := range raw {
		if s.Key == "" {
			telemetry.Warnf("oddsapi: dropping sport entry with empty key")
			continue
		}
		out = append(out, odds.Sport{
			Key:         s.Key,
			Group:       s.Group,
			Title:       s.Title,
			Active:      s.Active,
			HasOutcomes: s.HasOutcomes,
		})
	}
	return out, nil
}

// GetOdds issues one request for the given sport and returns normalised
// events plus the latest quota observation.
func (c *Client) GetOdds(ctx context.Context, sportKey string) ([]odds.Event, odds.QuotaSnapshot, error) {
	body, headers, err := c.get(ctx, fmt.Sprintf("/sports/%s/odds", sportKey), url.Values{
		"apiKey":     {c.cfg.APIKey},
		"regions":    {c.cfg.Regions},
		"markets":    {c.cfg.Markets},
		"oddsFormat": {string(c.cfg.OddsFormat)},
	})
	if err != nil {
		return nil, odds.QuotaSnapshot{}, err
	}

	events, err := parseEvents(body, sportKey, c.cfg.OddsFormat)
	if err != nil {
		return nil, odds.QuotaSnapshot{}, err
	}

	quota := parseQuota(headers)
	telemetry.Metrics.QuotaRemaining(quota.Remaining)
	telemetry.Infof("oddsapi: fetched %d events for %s (quota remaining=%d)", len(events), sportKey, quota.Remaining)
	return events, quota, nil
}

// get issues a rate-limited GET and classifies the response per spec.md
// §4.C: 200 parses, 401 is an AuthError, 422 a BadRequestError, 429 a
// QuotaExhaustedError, and 5xx/network failures a TransientError.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", odds.ErrCancelled, err)
	}

	full := c.cfg.BaseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, nil, &odds.TransientError{Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: %v", odds.ErrCancelled, err)
		}
		return nil, nil, &odds.TransientError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &odds.TransientError{Cause: fmt.Errorf("read response body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, resp.Header, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, nil, &odds.AuthError{Message: string(body)}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, nil, &odds.BadRequestError{Message: string(body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, &odds.QuotaExhaustedError{ResetAt: parseRetryAfter(resp.Header)}
	case resp.StatusCode >= 500:
		return nil, nil, &odds.TransientError{Cause: fmt.Errorf("upstream status %d", resp.StatusCode)}
	default:
		return nil, nil, &odds.TransientError{Cause: fmt.Errorf("unexpected upstream status %d: %s", resp.StatusCode, body)}
	}
}

func parseRetryAfter(h http.Header) time.Time {
	v := h.Get("Retry-After")
	if v == "" {
		return time.Time{}
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Now().UTC().Add(time.Duration(secs) * time.Second)
	}
	if t, err := http.ParseTime(v); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func parseQuota(h http.Header) odds.QuotaSnapshot {
	snap := odds.QuotaSnapshot{ObservedAt: time.Now().UTC()}
	if v := h.Get("x-requests-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.Remaining = n
		}
	}
	if v := h.Get("x-requests-used"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.Used = n
		}
	}
	return snap
}

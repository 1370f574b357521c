// Package backend is the HTTP client for the remote analytics backend. It is
// the only place in the service that speaks to it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"signalboard/internal/logger"
	"signalboard/internal/platform/engineapi"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 8 << 20

type Options struct {
	BaseURL string
	Timeout time.Duration
	// RPS caps outgoing requests per second across all callers. Zero disables
	// the limiter.
	RPS        float64
	HTTPClient *http.Client
}

type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// HTTPError is returned for any non-2xx backend response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// IsClientError reports whether the backend rejected the request itself
// (4xx) rather than failing to serve it.
func (e *HTTPError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsRejection reports whether err is a 4xx answer from the backend.
func IsRejection(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.IsClientError()
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	c := &Client{base: base, http: hc, log: logger.New("Backend")}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c, nil
}

func (c *Client) RunBacktest(ctx context.Context, req engineapi.BacktestCreateRequest) (engineapi.BacktestRunResponse, error) {
	var out engineapi.BacktestRunResponse
	err := c.do(ctx, http.MethodPost, "/backtest/run", nil, req, &out)
	return out, err
}

func (c *Client) GetBacktest(ctx context.Context, runID string) (engineapi.BacktestRunResponse, error) {
	var out engineapi.BacktestRunResponse
	err := c.do(ctx, http.MethodGet, "/backtest/"+url.PathEscape(runID), nil, nil, &out)
	return out, err
}

// Top10 fetches the daily ranking. A zero date lets the backend pick today.
func (c *Client) Top10(ctx context.Context, date time.Time, mode string) (engineapi.SignalResponse, error) {
	q := url.Values{}
	if !date.IsZero() {
		q.Set("date", date.Format("2006-01-02"))
	}
	if mode != "" {
		q.Set("mode", mode)
	}
	var out engineapi.SignalResponse
	err := c.do(ctx, http.MethodGet, "/signals/top10", q, nil, &out)
	return out, err
}

func (c *Client) StockScores(ctx context.Context, symbol string, limit int) ([]engineapi.ScoreDetail, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []engineapi.ScoreDetail
	err := c.do(ctx, http.MethodGet, "/signals/stock/"+url.PathEscape(symbol), q, nil, &out)
	return out, err
}

func (c *Client) ImportYahoo(ctx context.Context, days int) (engineapi.Message, error) {
	q := url.Values{"days": {strconv.Itoa(days)}}
	var out engineapi.Message
	err := c.do(ctx, http.MethodPost, "/data/import/yahoo", q, nil, &out)
	return out, err
}

func (c *Client) ImportSeed(ctx context.Context) (engineapi.Message, error) {
	var out engineapi.Message
	err := c.do(ctx, http.MethodPost, "/data/import/seed", nil, nil, &out)
	return out, err
}

func (c *Client) Compute(ctx context.Context, date time.Time) (engineapi.Message, error) {
	q := url.Values{"date_str": {date.Format("2006-01-02")}}
	var out engineapi.Message
	err := c.do(ctx, http.MethodPost, "/data/compute", q, nil, &out)
	return out, err
}

// HealthCheck probes the backend's /health endpoint. The endpoint lives at
// the server root, outside the versioned API prefix.
func (c *Client) HealthCheck(ctx context.Context) error {
	root := c.base
	if u, err := url.Parse(c.base); err == nil {
		u.Path = ""
		root = u.String()
	}
	var out map[string]interface{}
	if err := c.doURL(ctx, http.MethodGet, root+"/health", "/health", nil, &out); err != nil {
		return err
	}
	if status, _ := out["status"].(string); status != "" && status != "ok" {
		return fmt.Errorf("backend reports status %q", status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	full := c.base + path
	if len(q) > 0 {
		full += "?" + q.Encode()
	}
	return c.doURL(ctx, method, full, path, body, out)
}

func (c *Client) doURL(ctx context.Context, method, full, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("backend %s %s: %w", method, path, err)
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, full, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Signalboard/1.0")
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("backend %s %s: read body: %w", method, path, err)
	}
	c.log.LogDebugf("%s %s -> %d in %v (request %s)", method, path, resp.StatusCode, time.Since(start), reqID)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("backend %s %s: decode response: %w", method, path, err)
	}
	return nil
}

// errorDetail extracts a readable message from a FastAPI style error body.
func errorDetail(raw []byte) string {
	var body engineapi.HTTPValidationError
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		s := strings.TrimSpace(string(raw))
		if len(s) > 256 {
			s = s[:256]
		}
		return s
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	var fields []struct {
		Loc []interface{} `json:"loc"`
		Msg string        `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &fields); err == nil && len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			loc := make([]string, 0, len(f.Loc))
			for _, l := range f.Loc {
				loc = append(loc, fmt.Sprint(l))
			}
			parts = append(parts, strings.Join(loc, ".")+": "+f.Msg)
		}
		return strings.Join(parts, "; ")
	}
	return string(body.Detail)
}

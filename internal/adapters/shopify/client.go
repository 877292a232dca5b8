// Package shopify is the rate-limit-aware client for the Shopify Admin REST API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/target/catalog-sync/internal/domain/model"
	"github.com/target/catalog-sync/internal/observability/metrics"
	"github.com/target/catalog-sync/internal/observability/statsd"
)

const (
	// AccessTokenHeader authenticates every Admin API call.
	AccessTokenHeader = "X-Shopify-Access-Token"
	// CallLimitHeader reports "used/total" of the store's leaky-bucket budget.
	CallLimitHeader = "X-Shopify-Shop-Api-Call-Limit"

	DefaultAPIVersion     = "2024-01"
	DefaultPageSize       = 250
	DefaultMaxAttempts    = 3
	DefaultRateLimitDelay = 1100 * time.Millisecond
	DefaultRetryDelay     = time.Second
	DefaultCallSpacing    = 500 * time.Millisecond
	DefaultTimeout        = 10 * time.Second

	maxResponseBytes = 32 << 20
	maxErrorBody     = 1024
)

// Sleeper waits between retry attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper waits on a real timer and returns early when ctx is done.
var TimerSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
})

// Options configure a Client. Zero values take the package defaults.
type Options struct {
	APIVersion  string
	PageSize    int
	MaxAttempts int
	// RateLimitDelay is the wait after a 429 without a Retry-After header.
	RateLimitDelay time.Duration
	// RetryDelay is the wait after a 5xx or transport failure.
	RetryDelay time.Duration
	// MinCallSpacing is the minimum gap between mutating calls to one store. Negative disables spacing.
	MinCallSpacing time.Duration
	Timeout        time.Duration
	HTTPClient     *http.Client
	// BaseURL maps a store domain to its API origin. Defaults to https://<domain>.
	BaseURL func(domain string) string
	Sleeper Sleeper
	Metrics statsd.Sink
	Logger  *slog.Logger
}

// Client talks to any number of stores. It is safe for concurrent use; spacing state is per store
// and local to this instance.
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.PageSize <= 0 || opts.PageSize > DefaultPageSize {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RateLimitDelay <= 0 {
		opts.RateLimitDelay = DefaultRateLimitDelay
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MinCallSpacing == 0 {
		opts.MinCallSpacing = DefaultCallSpacing
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BaseURL == nil {
		opts.BaseURL = func(domain string) string { return "https://" + domain }
	}
	if opts.Sleeper == nil {
		opts.Sleeper = TimerSleeper
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts:     opts,
		http:     hc,
		logger:   logger.With("component", "shopify_client"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// request describes one logical API call; retries reuse it.
type request struct {
	op       string
	method   string
	path     string
	query    url.Values
	body     any
	mutating bool
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do executes req with the retry policy: 429 waits Retry-After (or RateLimitDelay), 5xx and
// transport failures wait RetryDelay, other 4xx fail at once.
func (c *Client) do(ctx context.Context, store model.Credentials, req request) (*response, error) {
	var payload []byte
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", req.op, err)
		}
		payload = b
	}

	if req.mutating {
		if err := c.limiter(store.Domain).Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for %s call slot: %w", store.Domain, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		start := time.Now()
		res, err := c.roundTrip(ctx, store, req, payload)
		status := 0
		if res != nil {
			status = res.status
		}
		metrics.EmitUpstreamCall(c.opts.Metrics, metrics.UpstreamCall{
			Operation: req.op,
			Status:    status,
			Attempt:   attempt,
			Duration:  time.Since(start),
			Err:       err,
		})

		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &UpstreamError{Method: req.method, Path: req.path, Retryable: true, Err: err}
			wait = c.opts.RetryDelay
		case res.status == http.StatusTooManyRequests:
			wait = retryAfter(res.header, c.opts.RateLimitDelay)
			lastErr = &RateLimitExceeded{Method: req.method, Path: req.path, Attempts: attempt, RetryAfter: wait}
		case res.status >= 500:
			lastErr = c.upstreamError(req, res, true)
			wait = c.opts.RetryDelay
		case res.status < 200 || res.status >= 300:
			return res, c.upstreamError(req, res, false)
		default:
			c.observeCallLimit(store.Domain, res.header)
			return res, nil
		}

		if attempt == c.opts.MaxAttempts {
			break
		}
		c.logger.WarnContext(ctx, "retrying shopify call",
			"store", store.Domain,
			"operation", req.op,
			"attempt", attempt,
			"status", status,
			"wait", wait,
			"error", lastErr)
		if err := c.opts.Sleeper.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) roundTrip(ctx context.Context, store model.Credentials, req request, payload []byte) (*response, error) {
	u := strings.TrimRight(c.opts.BaseURL(store.Domain), "/") + "/admin/api/" + c.opts.APIVersion + "/" + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	hreq.Header.Set(AccessTokenHeader, store.AccessToken)
	hreq.Header.Set("Accept", "application/json")
	if payload != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func (c *Client) upstreamError(req request, res *response, retryable bool) *UpstreamError {
	body := strings.TrimSpace(string(res.body))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &UpstreamError{
		Method:    req.method,
		Path:      req.path,
		Status:    res.status,
		Body:      body,
		Retryable: retryable,
	}
}

func (c *Client) limiter(domain string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[domain]
	if !ok {
		if c.opts.MinCallSpacing < 0 {
			l = rate.NewLimiter(rate.Inf, 1)
		} else {
			l = rate.NewLimiter(rate.Every(c.opts.MinCallSpacing), 1)
		}
		c.limiters[domain] = l
	}
	return l
}

func (c *Client) observeCallLimit(domain string, h http.Header) {
	used, total, ok := parseCallLimit(h.Get(CallLimitHeader))
	if !ok {
		return
	}
	metrics.EmitCallBudget(c.opts.Metrics, domain, used, total)
	c.logger.Debug("shopify call budget", "store", domain, "used", used, "total", total)
}

// retryAfter reads a Retry-After value in seconds, which Shopify may send as a fraction.
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return fallback
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return fallback
	}
	return time.Duration(secs * float64(time.Second))
}

func parseCallLimit(v string) (int, int, bool) {
	usedStr, totalStr, ok := strings.Cut(strings.TrimSpace(v), "/")
	if !ok {
		return 0, 0, false
	}
	used, err := strconv.Atoi(strings.TrimSpace(usedStr))
	if err != nil {
		return 0, 0, false
	}
	total, err := strconv.Atoi(strings.TrimSpace(totalStr))
	if err != nil || total <= 0 {
		return 0, 0, false
	}
	return used, total, true
}

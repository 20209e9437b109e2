// Package fetcher wraps net/http with per-host rate limiting and the
// pipeline's retry policy for all SEC EDGAR traffic.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/finsight-labs/edgar-insights/internal/resilience"
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// Options configures the HTTP client.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	Retry        resilience.RetryConfig
	RateLimiters map[string]*rate.Limiter

	// BreakerThreshold and BreakerCooldown size the per-host circuit
	// breaker. Zero values take the resilience defaults.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultRateLimiters returns the per-host limiters for SEC endpoints.
// EDGAR's published fair-access ceiling is 10 req/s; 8 leaves headroom for
// other consumers under the same IP.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"data.sec.gov": rate.NewLimiter(8, 8),
		"www.sec.gov":  rate.NewLimiter(8, 8),
	}
}

// Client fetches EDGAR resources with rate limiting, bounded retries, and
// a per-host circuit breaker that fails fast when a host keeps erroring.
type Client struct {
	client   *http.Client
	opts     Options
	limiters map[string]*rate.Limiter
	fallback *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "edgar-insights/1.0"
	}
	limiters := opts.RateLimiters
	if limiters == nil {
		limiters = DefaultRateLimiters()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
		fallback: rate.NewLimiter(20, 20),
		breakers: make(map[string]*resilience.Breaker),
	}
}

func (c *Client) breakerFor(host string) *resilience.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	br, ok := c.breakers[host]
	if !ok {
		br = resilience.NewBreaker(host, c.opts.BreakerThreshold, c.opts.BreakerCooldown)
		c.breakers[host] = br
	}
	return br
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	if lim, ok := c.limiters[hostOf(rawURL)]; ok {
		return lim
	}
	return c.fallback
}

// get performs a single rate-limited request and classifies the response
// status into the retry taxonomy: 429/5xx transient, 404 and other 4xx
// permanent.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	host := hostOf(rawURL)
	breaker := c.breakerFor(host)
	if err := breaker.Allow(); err != nil {
		return nil, eris.Wrapf(err, "fetcher: %s", host)
	}

	if err := c.limiterFor(rawURL).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		err = eris.Wrap(err, "fetcher: do request")
		breaker.Record(err)
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		breaker.Record(nil)
		return resp, nil
	}

	_ = resp.Body.Close()
	statusErr := &StatusError{Code: resp.StatusCode, URL: rawURL}
	var classified error
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		classified = resilience.NewTransientError(statusErr, resp.StatusCode)
	} else {
		classified = resilience.NewPermanentError(statusErr)
	}
	breaker.Record(classified)
	return nil, classified
}

// Get fetches rawURL with retries and returns the body bytes.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	retry := c.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("fetch", rawURL)
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		resp, err := c.get(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read body from %s", rawURL)
		}
		return body, nil
	})
}

// GetJSON fetches rawURL with retries and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	retry := c.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("fetch", rawURL)
	}

	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		resp, err := c.get(ctx, rawURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return eris.Wrapf(err, "fetcher: decode JSON from %s", rawURL)
		}
		return nil
	})
}

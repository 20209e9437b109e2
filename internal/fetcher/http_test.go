package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/finsight-labs/edgar-insights/internal/resilience"
)

func testClient(t *testing.T, srvURL string, retry resilience.RetryConfig) *Client {
	t.Helper()
	u, err := url.Parse(srvURL)
	require.NoError(t, err)
	return New(Options{
		UserAgent: "test-agent test@example.com",
		Timeout:   5 * time.Second,
		Retry:     retry,
		RateLimiters: map[string]*rate.Limiter{
			u.Host: rate.NewLimiter(rate.Inf, 1),
		},
	})
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent test@example.com", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	body, err := testClient(t, srv.URL, fastRetry()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), body)
}

func TestGet_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	body, err := testClient(t, srv.URL, fastRetry()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), body)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGet_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL, fastRetry()).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestGet_ExhaustsRetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL, fastRetry()).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.EqualValues(t, 3, calls.Load())
}

func TestGet_CircuitBreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	c := New(Options{
		Retry: resilience.RetryConfig{MaxAttempts: 1},
		RateLimiters: map[string]*rate.Limiter{
			u.Host: rate.NewLimiter(rate.Inf, 1),
		},
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
	})

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), srv.URL)
		require.Error(t, err)
	}
	require.EqualValues(t, 2, calls.Load())

	// Circuit is open: the host is not contacted again.
	_, err = c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, resilience.IsTransient(err))
	assert.EqualValues(t, 2, calls.Load())
}

func TestGetJSON_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"EDGAR","count":2}`))
	}))
	defer srv.Close()

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	err := testClient(t, srv.URL, fastRetry()).GetJSON(context.Background(), srv.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, "EDGAR", out.Name)
	assert.Equal(t, 2, out.Count)
}

func TestLimiterFor_UnknownHostUsesFallback(t *testing.T) {
	c := New(Options{})
	lim := c.limiterFor("https://example.org/path")
	assert.Same(t, c.fallback, lim)

	known := c.limiterFor("https://data.sec.gov/submissions/CIK0000320193.json")
	assert.NotSame(t, c.fallback, known)
}

func TestGet_RateLimiterHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	c := New(Options{
		Retry: fastRetry(),
		RateLimiters: map[string]*rate.Limiter{
			// Bucket starts empty; the wait would block for ~1h.
			u.Host: rate.NewLimiter(rate.Every(time.Hour), 1),
		},
	})
	_, _ = c.Get(context.Background(), srv.URL) // drains the single token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Get(ctx, srv.URL)
	require.Error(t, err)
}

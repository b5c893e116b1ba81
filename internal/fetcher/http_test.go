package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/resilience"
)

var septemberRange = model.DateRange{
	Start: model.NewDate(2025, time.September, 1),
	End:   model.NewDate(2025, time.September, 30),
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: attempts,
		Backoff: resilience.Backoff{
			Initial:    time.Millisecond,
			Max:        5 * time.Millisecond,
			Multiplier: 2,
		},
	}
}

func newTestFetcher(baseURL string) *HTTPFetcher {
	return NewHTTPFetcher(
		PortalOptions{BaseURL: baseURL + "/search"},
		HTTPOptions{
			UserAgent:         "test-agent",
			Timeout:           5 * time.Second,
			Retry:             fastRetry(3),
			RequestsPerSecond: 1000,
		},
	)
}

func TestFetchPage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "01/09/2025", r.URL.Query().Get("date_from"))
		assert.Equal(t, "30/09/2025", r.URL.Query().Get("date_to"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>page two</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	raw, err := f.FetchPage(context.Background(), TokenForPage(2), septemberRange)
	require.NoError(t, err)

	assert.Equal(t, 2, raw.Page)
	assert.Equal(t, TokenForPage(2), raw.Token)
	assert.Equal(t, TokenForPage(3), raw.Next)
	assert.Equal(t, http.StatusOK, raw.StatusCode)
	assert.Equal(t, 1, raw.Attempts)
	assert.Equal(t, "<html>page two</html>", string(raw.Body))
	assert.False(t, raw.FetchedAt.IsZero())
}

func TestFetchPage_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	raw, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, raw.Attempts)
}

func TestFetchPage_TransientAfterRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	_, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Page)
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPage_PermanentOnNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	_, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestFetchPage_MalformedToken(t *testing.T) {
	f := newTestFetcher("http://127.0.0.1:1")
	for _, tok := range []PageToken{"", "x3", "p", "p0", "p-1", "pabc"} {
		_, err := f.FetchPage(context.Background(), tok, septemberRange)
		assert.True(t, IsPermanent(err), "token %q", tok)
	}
}

func TestFetchPage_BadBaseURL(t *testing.T) {
	f := NewHTTPFetcher(PortalOptions{BaseURL: "ftp://portal.example"}, HTTPOptions{})
	_, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
	assert.True(t, IsPermanent(err))
}

func TestFetchPage_RateLimitedSlowsDown(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	before := f.Limiter().Limit()

	_, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	// halved on 429, then +20% on success
	assert.InDelta(t, float64(before)*0.6, float64(f.Limiter().Limit()), 0.01)
}

func TestFetchPage_SpacesRequests(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(
		PortalOptions{BaseURL: srv.URL},
		HTTPOptions{Retry: fastRetry(1), RequestsPerSecond: 20},
	)
	for page := 1; page <= 4; page++ {
		_, err := f.FetchPage(context.Background(), TokenForPage(page), septemberRange)
		require.NoError(t, err)
	}

	require.Len(t, stamps, 4)
	// 20 rps with burst 1: at least ~50ms between consecutive requests.
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 40*time.Millisecond)
	}
}

func TestFetchPage_DecodesDeclaredCharset(t *testing.T) {
	latin1, err := charmap.ISO8859_1.NewEncoder().String("Café Street")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		_, _ = w.Write([]byte(latin1))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	raw, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
	require.NoError(t, err)
	assert.Equal(t, "Café Street", string(raw.Body))
}

func TestFetchPage_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(
		PortalOptions{BaseURL: srv.URL},
		HTTPOptions{Retry: fastRetry(1), RequestsPerSecond: 1000, MaxBodyBytes: 1024},
	)
	_, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
	assert.True(t, IsPermanent(err))
}

func TestFetchPage_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(
		PortalOptions{BaseURL: srv.URL},
		HTTPOptions{
			Retry:             fastRetry(1),
			RequestsPerSecond: 1000,
			Breaker:           resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
		},
	)

	for range 2 {
		_, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
		require.True(t, IsTransient(err))
	}
	require.Equal(t, int32(2), calls.Load())

	_, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must short-circuit")
}

func TestFetchPage_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchPage(ctx, FirstPage(), septemberRange)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPageURL_ExtraQuery(t *testing.T) {
	f := NewHTTPFetcher(PortalOptions{
		BaseURL:         "https://portal.example/da/search?type=all",
		FromParam:       "from",
		ToParam:         "to",
		PageParam:       "pg",
		QueryDateLayout: "2006-01-02",
		ExtraQuery:      map[string]string{"format": "json"},
	}, HTTPOptions{})

	u, err := f.PageURL(4, septemberRange)
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example/da/search?format=json&from=2025-09-01&pg=4&to=2025-09-30&type=all", u)
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(PortalOptions{BaseURL: "https://portal.example"}, HTTPOptions{})
	assert.Equal(t, "da-ingest/1.0", f.opts.UserAgent)
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.Retry.MaxAttempts)
	assert.Equal(t, int64(10<<20), f.opts.MaxBodyBytes)
	assert.Equal(t, "date_from", f.portal.FromParam)
	assert.Equal(t, "page", f.portal.PageParam)
	assert.InDelta(t, 1.0, float64(f.Limiter().Limit()), 0.001)
}

func TestFetchPage_ChallengeIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Cf-Ray", "8f00")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("<html>results</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	raw, err := f.FetchPage(context.Background(), FirstPage(), septemberRange)
	require.NoError(t, err)
	assert.Equal(t, 2, raw.Attempts)
}

package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/resilience"
)

// PortalOptions describes the portal's search endpoint.
type PortalOptions struct {
	BaseURL         string
	FromParam       string
	ToParam         string
	PageParam       string
	QueryDateLayout string
	// ExtraQuery is added to every request (e.g. a fixed search type).
	ExtraQuery map[string]string
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent         string
	Timeout           time.Duration
	Retry             resilience.RetryConfig
	RequestsPerSecond float64
	MaxBodyBytes      int64
	Breaker           resilience.BreakerConfig
}

// HTTPFetcher implements PageFetcher over net/http with local rate limiting,
// bounded retries and a circuit breaker.
type HTTPFetcher struct {
	client  *http.Client
	portal  PortalOptions
	opts    HTTPOptions
	limiter *AdaptiveLimiter
	breaker *resilience.Breaker
	nowFunc func() time.Time
}

// NewHTTPFetcher creates an HTTPFetcher, filling unset options with defaults.
func NewHTTPFetcher(portal PortalOptions, opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "da-ingest/1.0"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if portal.FromParam == "" {
		portal.FromParam = "date_from"
	}
	if portal.ToParam == "" {
		portal.ToParam = "date_to"
	}
	if portal.PageParam == "" {
		portal.PageParam = "page"
	}
	if portal.QueryDateLayout == "" {
		portal.QueryDateLayout = "02/01/2006"
	}

	breakerCfg := opts.Breaker
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("portal circuit breaker transition",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 2,
		MaxConnsPerHost:     4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		portal:  portal,
		opts:    opts,
		limiter: NewAdaptiveLimiter(opts.RequestsPerSecond),
		breaker: resilience.NewBreaker(breakerCfg),
		nowFunc: time.Now,
	}
}

// Limiter exposes the fetcher's rate limiter.
func (f *HTTPFetcher) Limiter() *AdaptiveLimiter {
	return f.limiter
}

// PageURL builds the search URL for page within dr.
func (f *HTTPFetcher) PageURL(page int, dr model.DateRange) (string, error) {
	u, err := url.Parse(f.portal.BaseURL)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: parse portal base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", eris.Errorf("fetcher: portal base url %q must be http(s)", f.portal.BaseURL)
	}
	q := u.Query()
	for k, v := range f.portal.ExtraQuery {
		q.Set(k, v)
	}
	q.Set(f.portal.FromParam, dr.Start.Time().Format(f.portal.QueryDateLayout))
	q.Set(f.portal.ToParam, dr.End.Time().Format(f.portal.QueryDateLayout))
	q.Set(f.portal.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchPage implements PageFetcher.
func (f *HTTPFetcher) FetchPage(ctx context.Context, token PageToken, dr model.DateRange) (*RawPage, error) {
	page, err := token.Page()
	if err != nil {
		return nil, &FetchError{Kind: Permanent, Err: err}
	}
	pageURL, err := f.PageURL(page, dr)
	if err != nil {
		return nil, &FetchError{Kind: Permanent, Page: page, Err: err}
	}

	if err := f.breaker.Allow(); err != nil {
		return nil, &FetchError{Kind: Transient, Page: page, Err: err}
	}

	log := zap.L().With(zap.String("component", "fetcher"), zap.Int("page", page))

	retry := f.opts.Retry
	retry.ShouldRetry = resilience.IsTransient
	retry.OnRetry = resilience.RetryLogger(log, "page fetch failed, retrying")

	var lastStatus int
	raw, attempts, err := resilience.DoVal(ctx, retry, func(ctx context.Context, _ int) (*RawPage, error) {
		rp, status, err := f.do(ctx, pageURL)
		lastStatus = status
		return rp, err
	})
	if err != nil {
		kind := Permanent
		if resilience.IsTransient(err) || ctx.Err() != nil {
			kind = Transient
			if ctx.Err() == nil {
				f.breaker.Record(err)
			} else {
				f.breaker.Record(nil)
			}
		} else {
			f.breaker.Record(nil)
		}
		return nil, &FetchError{Kind: kind, Page: page, StatusCode: lastStatus, Attempts: attempts, Err: err}
	}
	f.breaker.Record(nil)

	raw.Token = token
	raw.Page = page
	raw.Next = TokenForPage(page + 1)
	raw.Attempts = attempts
	log.Debug("page fetched",
		zap.Int("bytes", len(raw.Body)),
		zap.Int("attempts", attempts),
	)
	return raw, nil
}

// do issues a single rate-limited GET. Errors worth retrying are returned as
// *resilience.TransientError.
func (f *HTTPFetcher) do(ctx context.Context, pageURL string) (*RawPage, int, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html, application/json;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, resilience.NewTransientError(eris.Wrap(err, "http request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		f.limiter.OnRateLimit()
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, resilience.NewTransientError(
			eris.Errorf("http %d from %s", resp.StatusCode, pageURL), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
		if blocked, kind := DetectChallenge(resp, snippet); blocked {
			return nil, resp.StatusCode, resilience.NewTransientError(
				eris.Errorf("portal served a %s challenge for %s", kind, pageURL), resp.StatusCode)
		}
		return nil, resp.StatusCode, eris.Errorf("unexpected status %d from %s", resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, resilience.NewTransientError(eris.Wrap(err, "read body"), resp.StatusCode)
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, resp.StatusCode, eris.Errorf("response from %s exceeds %d bytes", pageURL, f.opts.MaxBodyBytes)
	}

	if blocked, kind := DetectChallenge(resp, body); blocked {
		return nil, resp.StatusCode, resilience.NewTransientError(
			eris.Errorf("portal served a %s challenge for %s", kind, pageURL), resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	body, err = decodeBody(contentType, body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	f.limiter.OnSuccess()
	return &RawPage{
		URL:         pageURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		FetchedAt:   f.nowFunc().UTC(),
	}, resp.StatusCode, nil
}

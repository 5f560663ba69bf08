// Package metadata fetches remote documents (ingestion configs, dataset
// descriptors) over HTTP with a small, fixed retry budget.
//
// Only 502, 503 and 504 are retried: those are the gateway answers a
// metadata service gives while it restarts. Every other status and every
// transport error fails on the first attempt.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ingest/internal/metrics"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultRetryMax gives five attempts in total.
	DefaultRetryMax = 4
	DefaultBackoff  = time.Second
	DefaultTimeout  = 30 * time.Second

	maxBody = 16 << 20
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// StatusError reports a fetch that did not end in a 2xx response.
// StatusCode is 0 when no response was received.
type StatusError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("metadata: GET %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("metadata: GET %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Retryable reports whether the final status was one the fetcher retries.
func (e *StatusError) Retryable() bool { return retryableStatus(e.StatusCode) }

// Options configures a Fetcher. Zero values take the defaults.
type Options struct {
	RetryMax int
	Backoff  time.Duration
	Timeout  time.Duration
	Logger   Logger

	// HTTPClient replaces the underlying client; tests point it at httptest.
	HTTPClient *http.Client
}

// Fetcher performs GETs with bounded retries.
type Fetcher struct {
	client *retryablehttp.Client
}

// New builds a Fetcher.
func New(opts Options) *Fetcher {
	if opts.RetryMax <= 0 {
		opts.RetryMax = DefaultRetryMax
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	c := retryablehttp.NewClient()
	if opts.HTTPClient != nil {
		c.HTTPClient = opts.HTTPClient
	} else {
		c.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	base := c.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.HTTPClient.Transport = timedTransport{next: base}

	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = opts.Backoff
	c.RetryWaitMax = opts.Backoff
	backoff := opts.Backoff
	c.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration { return backoff }
	c.CheckRetry = checkRetry
	c.ErrorHandler = giveUp
	c.Logger = nil
	if opts.Logger != nil {
		c.Logger = opts.Logger
	}
	return &Fetcher{client: c}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// checkRetry never retries a canceled context or a transport error.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return retryableStatus(resp.StatusCode), nil
}

// giveUp runs when checkRetry stops the loop with an error or the retry
// budget is spent.
func giveUp(resp *http.Response, err error, attempts int) (*http.Response, error) {
	se := &StatusError{Attempts: attempts, Err: err}
	if resp != nil {
		se.StatusCode = resp.StatusCode
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		resp.Body.Close()
	}
	return nil, se
}

// Fetch returns the body of url.
//
// Errors:
//   - *StatusError for a non-2xx final status or a transport failure.
//   - ctx.Err() (wrapped) when the context ends, including mid-backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata: new request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			se.URL = url
			if ctx.Err() != nil {
				return nil, fmt.Errorf("metadata: GET %s: %w", url, ctx.Err())
			}
			return nil, se
		}
		return nil, fmt.Errorf("metadata: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Attempts: 1}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("metadata: read %s: %w", url, err)
	}
	return body, nil
}

// timedTransport records one metrics sample per attempt.
type timedTransport struct {
	next http.RoundTripper
}

func (t timedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(r)
	code := 0
	if err == nil {
		code = resp.StatusCode
	}
	metrics.RecordHTTP(code, time.Since(start))
	return resp, err
}

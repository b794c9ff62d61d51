package cachekit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Default values for HTTP client configuration.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxJitter  = 100 * time.Millisecond
	DefaultTimeout    = 30 * time.Second
)

// HTTPOptions configures the HTTP adapter's transport behavior.
type HTTPOptions struct {
	// Timeout is the request timeout (default: 30s).
	Timeout time.Duration

	// MaxRetries is the maximum attempts for GET requests (default: 3).
	// Writes (POST/PUT/DELETE) are never retried for transient failures —
	// only the single 401-then-authenticate-then-retry pass described in
	// the HTTP adapter applies to them.
	MaxRetries int

	// BaseDelay is the initial backoff delay (default: 1s).
	BaseDelay time.Duration

	// MaxJitter is the maximum random jitter added to backoff delays (default: 100ms).
	MaxJitter time.Duration

	// Transport is the underlying http.RoundTripper. If nil, a default
	// transport with sensible connection pooling is used. This is the
	// extension point for swapping the transport entirely (e.g. to record
	// and replay fixtures in tests).
	Transport http.RoundTripper
}

// DefaultHTTPOptions returns HTTPOptions with sensible defaults.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxJitter:  DefaultMaxJitter,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpOpts.Timeout = d }
}

// WithMaxRetries sets the maximum total number of attempts (the first try
// included) for GET requests.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.httpOpts.MaxRetries = n }
}

// WithBaseDelay sets the initial backoff delay.
func WithBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.httpOpts.BaseDelay = d }
}

// WithMaxJitter sets the maximum random jitter added to backoff delays.
func WithMaxJitter(d time.Duration) ClientOption {
	return func(c *Client) { c.httpOpts.MaxJitter = d }
}

// WithTransport sets a custom HTTP transport. This is the adapter's pluggable
// fetch mechanism: swap it to point the client at a fake, a recorder, or a
// non-default dialer.
func WithTransport(t http.RoundTripper) ClientOption {
	return func(c *Client) { c.httpOpts.Transport = t }
}

// newDefaultTransport clones http.DefaultTransport to preserve proxy
// settings, HTTP/2, and TLS config, with pooling tuned for a long-lived
// client talking to one host.
func newDefaultTransport() http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 10
	t.IdleConnTimeout = 90 * time.Second
	return t
}

// attemptKey is the context key carrying the current request attempt number,
// read by loggingTransport for hook reporting.
type attemptKey struct{}

func contextWithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

func attemptFromContext(ctx context.Context) int {
	if v := ctx.Value(attemptKey{}); v != nil {
		if attempt, ok := v.(int); ok {
			return attempt
		}
	}
	return 1
}

// loggingTransport wraps an http.RoundTripper to log requests/responses and
// drive the client's observability hooks for every HTTP call the adapter
// makes.
type loggingTransport struct {
	inner  http.RoundTripper
	client *Client
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	info := RequestInfo{
		Method:  req.Method,
		URL:     req.URL.String(),
		Attempt: attemptFromContext(req.Context()),
	}
	hookCtx := t.client.hooks.OnRequestStart(req.Context(), info)
	start := time.Now()
	req = req.WithContext(hookCtx)

	var result RequestResult
	defer func() {
		result.Duration = time.Since(start)
		t.client.hooks.OnRequestEnd(hookCtx, info, result)
	}()

	t.client.logger.Debug("http request", "method", req.Method, "url", req.URL.String())

	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		result.Error = err
		return resp, err
	}

	result.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if seconds := parseRetryAfter(resp.Header.Get("Retry-After")); seconds > 0 {
			result.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	t.client.logger.Debug("http response", "status", resp.StatusCode)
	return resp, nil
}

// httpAdapter is the HTTP adapter of the data flow: it attaches an
// authorization token for the target URL when one is on hand, dispatches the
// request, and classifies the result. On 401/403 it invalidates the token
// that was in use; on 401 (when challenging is allowed) it asks the
// authentication coordinator for a fresh token and retries exactly once.
//
// authCoord is wired in after construction — the coordinator itself needs a
// transport (this adapter) to perform its own login/logout calls, so the two
// are built in two passes by NewClient.
type httpAdapter struct {
	httpClient *http.Client
	cfg        *Config
	logger     *slog.Logger
	hooks      Hooks
	httpOpts   HTTPOptions
	userAgent  string
	authCoord  *authCoordinator
}

// Get performs an authenticated GET, per the HTTP adapter steps in the
// external interfaces section: attach token if known, dispatch, retry once
// on 401 via the authentication coordinator. The result is returned
// unconverted since a collection endpoint may answer with a bare JSON array
// (the complete list) or an object (one paginated page) — the fetch
// pipeline tells them apart.
func (a *httpAdapter) Get(ctx context.Context, url string) (any, error) {
	return a.do(ctx, http.MethodGet, url, nil, true, true)
}

// Post performs an authenticated POST. It also satisfies authTransport's
// Post method, used by the authentication coordinator for logout calls.
func (a *httpAdapter) Post(ctx context.Context, url string, body any) (map[string]any, error) {
	data, err := a.do(ctx, http.MethodPost, url, body, true, true)
	if err != nil {
		return nil, err
	}
	return asObject(data)
}

// Put performs an authenticated PUT.
func (a *httpAdapter) Put(ctx context.Context, url string, body any) (map[string]any, error) {
	data, err := a.do(ctx, http.MethodPut, url, body, true, true)
	if err != nil {
		return nil, err
	}
	return asObject(data)
}

// Delete performs an authenticated DELETE.
func (a *httpAdapter) Delete(ctx context.Context, url string) (map[string]any, error) {
	data, err := a.do(ctx, http.MethodDelete, url, nil, true, true)
	if err != nil {
		return nil, err
	}
	return asObject(data)
}

// PostUnauthenticated performs a POST with no Authorization header and no
// 401-retry pass — used for the login request itself, before any token
// exists.
func (a *httpAdapter) PostUnauthenticated(ctx context.Context, url string, body any) (map[string]any, error) {
	data, err := a.do(ctx, http.MethodPost, url, body, false, false)
	if err != nil {
		return nil, err
	}
	return asObject(data)
}

// asObject asserts that data, a parsed JSON response, is a JSON object (or
// absent, i.e. a 204/empty body). Item endpoints never legitimately return
// a bare array or scalar.
func asObject(data any) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object response, got %T", data)
	}
	return m, nil
}

func (a *httpAdapter) do(ctx context.Context, method, url string, body any, authenticated, allowChallenge bool) (any, error) {
	var headers http.Header
	if authenticated {
		if token, ok := a.authCoord.getToken(url); ok {
			headers = http.Header{"Authorization": {a.cfg.AuthorizationKeyword + " " + token}}
		}
	}

	status, data, err := a.roundTrip(ctx, method, url, headers, body)
	if err != nil {
		return nil, err
	}

	switch {
	case status < 400:
		return data, nil

	case status == http.StatusUnauthorized:
		if authenticated {
			a.authCoord.invalidateForURL(url)
			if allowChallenge {
				token, aerr := a.authCoord.requestAuthentication(ctx, url)
				if aerr == nil && token != "" {
					return a.do(ctx, method, url, body, authenticated, false)
				}
			}
		}
		return nil, ErrHTTP(status, http.StatusText(status))

	case status == http.StatusForbidden:
		if authenticated {
			a.authCoord.invalidateForURL(url)
		}
		return nil, ErrHTTP(status, http.StatusText(status))

	default:
		return nil, ErrHTTP(status, http.StatusText(status))
	}
}

// roundTrip dispatches method/url with the retry policy: GET gets up to
// MaxRetries attempts with exponential backoff (honoring Retry-After on
// 429/503); writes get exactly one attempt, since retrying a write that
// already reached the server risks duplicating it.
func (a *httpAdapter) roundTrip(ctx context.Context, method, url string, headers http.Header, body any) (int, any, error) {
	maxAttempts := 1
	if method == http.MethodGet {
		maxAttempts = a.httpOpts.MaxRetries
		if maxAttempts < 1 {
			maxAttempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, data, retryAfter, err := a.attempt(ctx, method, url, headers, body, attempt)
		if err != nil {
			lastErr = err
			if attempt == maxAttempts {
				return 0, nil, err
			}
			info := RequestInfo{Method: method, URL: url, Attempt: attempt}
			a.hooks.OnRetry(ctx, info, attempt+1, err)
			if !a.wait(ctx, attempt, 0) {
				return 0, nil, ctx.Err()
			}
			continue
		}

		if method == http.MethodGet && isRetryableStatus(status) && attempt < maxAttempts {
			lastErr = ErrHTTP(status, http.StatusText(status))
			info := RequestInfo{Method: method, URL: url, Attempt: attempt}
			a.hooks.OnRetry(ctx, info, attempt+1, lastErr)
			if !a.wait(ctx, attempt, retryAfter) {
				return 0, nil, ctx.Err()
			}
			continue
		}

		return status, data, nil
	}

	return 0, nil, lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (a *httpAdapter) wait(ctx context.Context, attempt int, retryAfter time.Duration) bool {
	delay := retryAfter
	if delay <= 0 {
		delay = a.backoffDelay(attempt)
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (a *httpAdapter) backoffDelay(attempt int) time.Duration {
	delay := a.httpOpts.BaseDelay * time.Duration(1<<(attempt-1))
	if a.httpOpts.MaxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(a.httpOpts.MaxJitter))) // #nosec G404 -- jitter doesn't need cryptographic randomness
	}
	return delay
}

// attempt performs a single HTTP round trip and classifies the outcome.
// transportErr is non-nil only for failures outside the HTTP status (request
// construction or body encoding, dial errors, context cancellation,
// oversized or undecodable bodies) — a non-2xx status is
// reported through status, not transportErr, so callers can apply
// status-specific handling (401/403/retry) uniformly.
func (a *httpAdapter) attempt(ctx context.Context, method, rawURL string, headers http.Header, body any, attemptNum int) (status int, data any, retryAfter time.Duration, transportErr error) {
	ctx = contextWithAttempt(ctx, attemptNum)

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return 0, nil, 0, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, 0, ErrTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if seconds := parseRetryAfter(resp.Header.Get("Retry-After")); seconds > 0 {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil, retryAfter, nil
	}

	raw, err := limitedReadAll(resp.Body, MaxResponseBodyBytes)
	if err != nil {
		return resp.StatusCode, nil, retryAfter, ErrTransport(err)
	}
	if len(raw) == 0 {
		return resp.StatusCode, nil, retryAfter, nil
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return resp.StatusCode, nil, retryAfter, fmt.Errorf("decode response body: %w", err)
	}
	return resp.StatusCode, parsed, retryAfter, nil
}

// parseRetryAfter parses the Retry-After header, handling both the
// delay-seconds and HTTP-date forms. Returns 0 if absent or unparseable.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return seconds
	}
	if t, err := http.ParseTime(header); err == nil {
		if seconds := int(time.Until(t).Seconds()); seconds > 0 {
			return seconds
		}
	}
	return 0
}

package cachekit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// DefaultUserAgent is the default User-Agent header value.
const DefaultUserAgent = "cachekit-go/" + Version

// Client is the entry point of the system: it owns the query cache table,
// the authentication coordinator, the lifecycle gate, the event emitter,
// and the HTTP adapter that backs all of them. A Client is safe for
// concurrent use after construction.
//
// Two Clients never share state — queryTable, authCoordinator, lifecycle,
// and emitter are all created fresh by NewClient, per instance.
type Client struct {
	cfg *Config

	table  *queryTable
	auth   *authCoordinator
	life   *lifecycle
	events *emitter
	http   *httpAdapter

	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	httpOpts   HTTPOptions
	hooks      Hooks
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client, bypassing the adapter's own
// transport/logging wrapping. Use WithTransport instead if you only want to
// swap the underlying RoundTripper.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) { client.httpClient = c }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(client *Client) { client.userAgent = ua }
}

// WithLogger sets a custom slog logger for debug output.
// By default, the client uses a no-op logger (silent). Passing nil is safe
// and keeps the default no-op logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		if l != nil {
			client.logger = l
		}
	}
}

// discardHandler is a slog.Handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

// NewClient builds a Client from cfg, wiring the query cache, authentication
// coordinator, lifecycle controller, event emitter, and HTTP adapter
// together.
//
// The client automatically:
//   - Retries GET requests with exponential backoff, honoring Retry-After
//   - Never retries POST/PUT/DELETE for transient failures (to avoid
//     duplicating writes), except the single 401-then-authenticate pass
//   - Strips the Authorization header on cross-origin redirects
//
// Configuration options:
//   - WithTimeout(d)      - request timeout (default: 30s)
//   - WithMaxRetries(n)   - max total GET attempts (default: 3)
//   - WithTransport(t)    - custom http.RoundTripper
//   - WithHTTPClient(c)   - fully custom http.Client (bypasses the adapter's transport wrapping)
//   - WithLogger(l)       - slog.Logger for debug output
//   - WithHooks(h)        - observability hooks
func NewClient(cfg *Config, opts ...ClientOption) *Client {
	cfgCopy := *cfg
	if cfgCopy.AuthorizationKeyword == "" {
		cfgCopy.AuthorizationKeyword = DefaultAuthorizationKeyword
	}

	c := &Client{
		cfg:       &cfgCopy,
		userAgent: DefaultUserAgent,
		logger:    slog.New(discardHandler{}),
		hooks:     NoopHooks{},
		httpOpts:  DefaultHTTPOptions(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.cfg.BaseURL != "" && !isLocalhost(c.cfg.BaseURL) {
		if err := requireHTTPS(c.cfg.BaseURL); err != nil {
			panic("cachekit: base URL must use HTTPS: " + c.cfg.BaseURL)
		}
	}
	if c.httpOpts.Timeout <= 0 {
		panic("cachekit: timeout must be positive")
	}
	if c.httpOpts.MaxRetries < 0 {
		panic("cachekit: max retries must be non-negative")
	}

	if c.httpClient == nil {
		transport := c.httpOpts.Transport
		if transport == nil {
			transport = newDefaultTransport()
		}
		transport = &loggingTransport{inner: transport, client: c}

		c.httpClient = &http.Client{
			Timeout:   c.httpOpts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Strip Authorization header when redirecting to a different
				// origin, to prevent credential leakage to third-party hosts.
				if len(via) > 0 && !isSameOrigin(req.URL.String(), via[0].URL.String()) {
					req.Header.Del("Authorization")
				}
				return nil
			},
		}
	}

	c.table = newQueryTable()
	c.events = newEmitter()
	c.life = newLifecycle(c.table, c.cfg.RefreshInterval)

	c.http = &httpAdapter{
		httpClient: c.httpClient,
		cfg:        c.cfg,
		logger:     c.logger,
		hooks:      c.hooks,
		httpOpts:   c.httpOpts,
		userAgent:  c.userAgent,
	}
	c.auth = newAuthCoordinator(c.events, c.table, c.http)
	c.http.authCoord = c.auth

	return c
}

// Config returns a copy of the client's resolved configuration. Modifying
// the returned Config has no effect on the client.
func (c *Client) Config() Config {
	return *c.cfg
}

// Activate resumes outbound fetches and restarts background expiration.
func (c *Client) Activate() { c.life.Activate() }

// Deactivate pauses outbound fetches. In-flight and future reads still
// return cached data; background refreshes stop until Activate.
func (c *Client) Deactivate() { c.life.Deactivate() }

// IsActive reports whether the client is currently dispatching fetches.
func (c *Client) IsActive() bool { return c.life.IsActive() }

// OnChange registers a handler invoked whenever cached data changes.
func (c *Client) OnChange(h func()) { c.events.OnChange(h) }

// OnAuthentication registers a handler invoked when a request needs
// credentials for a URL (on 401, or via RequestAuthentication).
func (c *Client) OnAuthentication(h func(*AuthenticationEvent)) { c.events.OnAuthentication(h) }

// OnAuthorization registers a handler invoked when a token is about to be
// recorded as authorizing a set of URL prefixes.
func (c *Client) OnAuthorization(h func(*AuthorizationEvent)) { c.events.OnAuthorization(h) }

// OnDeauthorization registers a handler invoked when a token is being revoked.
func (c *Client) OnDeauthorization(h func(*DeauthorizationEvent)) { c.events.OnDeauthorization(h) }

// IsAuthorized reports whether url currently has a matching, valid token.
func (c *Client) IsAuthorized(url string) bool { return c.auth.isAuthorized(url) }

// RequestAuthentication solicits credentials for url via the authentication
// event, returning the resulting token (or "" if declined/cancelled).
// Concurrent callers for the same URL share one challenge.
func (c *Client) RequestAuthentication(ctx context.Context, url string) (string, error) {
	return c.auth.requestAuthentication(ctx, url)
}

// CancelAuthentication drops the pending challenge for url, if any.
func (c *Client) CancelAuthentication(url string) { c.auth.cancelAuthentication(url) }

// Authenticate POSTs credentials, unauthenticated, to loginURL and
// authorizes the returned token for allowURLs.
func (c *Client) Authenticate(ctx context.Context, loginURL string, credentials map[string]any, allowURLs []string) (string, error) {
	return c.auth.authenticate(ctx, loginURL, credentials, allowURLs)
}

// Authorize records token as authorizing allowURLs, resolving any pending
// challenges it covers.
func (c *Client) Authorize(token string, allowURLs []string, fresh bool) (bool, error) {
	return c.auth.authorize(token, allowURLs, fresh)
}

// CancelAuthorization narrows existing authorization records by adding
// denyURLs to their deny sets, without contacting the server.
func (c *Client) CancelAuthorization(denyURLs []string) { c.auth.cancelAuthorization(denyURLs) }

// RevokeAuthorization narrows authorization for denyURLs, optionally POSTs
// logoutURL, and evicts every cached query under the revoked scope.
func (c *Client) RevokeAuthorization(ctx context.Context, logoutURL string, denyURLs []string) error {
	return c.auth.revokeAuthorization(ctx, logoutURL, denyURLs)
}

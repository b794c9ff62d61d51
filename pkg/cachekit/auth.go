package cachekit

import (
	"context"
	"sync"
)

// authTransport is the subset of the HTTP adapter the authentication
// coordinator needs: unauthenticated POST for login, and plain POST for
// logout. Implemented by the Client's httpAdapter.
type authTransport interface {
	PostUnauthenticated(ctx context.Context, url string, body any) (map[string]any, error)
	Post(ctx context.Context, url string, body any) (map[string]any, error)
}

// authRecord is the Authorization record: a token scoped by allow
// and deny URL-prefix sets.
type authRecord struct {
	token   string
	allow   []string
	deny    []string
	invalid bool
}

func (r *authRecord) matches(url string) bool {
	if r.invalid {
		return false
	}
	allowed := false
	for _, prefix := range r.allow {
		if matchURL(url, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	for _, prefix := range r.deny {
		if matchURL(url, prefix) {
			return false
		}
	}
	return true
}

// authChallenge tracks one per URL currently
// under challenge, with a shared deferred so concurrent 401s on the same
// URL multiplex onto a single promise.
type authChallenge struct {
	url string
	d   *deferred[string]
}

// authCoordinator maintains the pending-challenge table and the token
// table scoped by allowed URL-prefix set . It is single-instance
// state owned by one Client; two clients never share a coordinator.
type authCoordinator struct {
	mu         sync.Mutex
	records    []*authRecord
	challenges map[string]*authChallenge

	events    *emitter
	table     *queryTable
	transport authTransport
}

func newAuthCoordinator(events *emitter, table *queryTable, transport authTransport) *authCoordinator {
	return &authCoordinator{
		challenges: make(map[string]*authChallenge),
		events:     events,
		table:      table,
		transport:  transport,
	}
}

// getToken returns the token from the first non-invalid record whose
// allow set matches url and whose deny set does not.
func (c *authCoordinator) getToken(url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.matches(url) {
			return r.token, true
		}
	}
	return "", false
}

// isAuthorized reports whether url currently has a matching token.
func (c *authCoordinator) isAuthorized(url string) bool {
	_, ok := c.getToken(url)
	return ok
}

// requestAuthentication solicits credentials for url from the host via the
// authentication event, returning the token once authorized (or "" if the
// challenge is declined or cancelled). Concurrent callers for the same URL
// share one challenge and one resolution.
func (c *authCoordinator) requestAuthentication(ctx context.Context, url string) (string, error) {
	c.mu.Lock()
	if existing, ok := c.challenges[url]; ok {
		c.mu.Unlock()
		return existing.d.wait(ctx)
	}

	ch := &authChallenge{url: url, d: newDeferred[string]()}
	c.challenges[url] = ch
	c.mu.Unlock()

	ev := c.events.fireAuthentication(url)
	if ev.isWaiting() {
		select {
		case <-ev.done:
		case <-ch.d.done:
			return ch.d.wait(ctx)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if ev.Prevented() {
		c.mu.Lock()
		delete(c.challenges, url)
		c.mu.Unlock()
		ch.d.resolve("")
		return "", nil
	}

	return ch.d.wait(ctx)
}

// cancelAuthentication drops the pending challenge for url, resolving its
// promise with the empty token.
func (c *authCoordinator) cancelAuthentication(url string) {
	c.mu.Lock()
	ch, ok := c.challenges[url]
	if ok {
		delete(c.challenges, url)
	}
	c.mu.Unlock()
	if ok {
		ch.d.resolve("")
	}
}

// authenticate POSTs credentials unauthenticated to loginURL, extracts the
// returned key, and authorizes it for allowURLs.
func (c *authCoordinator) authenticate(ctx context.Context, loginURL string, credentials map[string]any, allowURLs []string) (string, error) {
	resp, err := c.transport.PostUnauthenticated(ctx, loginURL, credentials)
	if err != nil {
		return "", err
	}
	key, _ := resp["key"].(string)
	if key == "" {
		return "", ErrHTTP(403, "No authorization token")
	}
	if _, err := c.authorize(key, allowURLs, true); err != nil {
		return "", err
	}
	return key, nil
}

// authorize records token as authorizing allowURLs, resolving any pending
// challenges it covers. Returns false without effect if token
// is already known and valid.
func (c *authCoordinator) authorize(token string, allowURLs []string, fresh bool) (bool, error) {
	c.mu.Lock()
	for _, r := range c.records {
		if r.token == token && !r.invalid {
			c.mu.Unlock()
			return false, nil
		}
	}
	c.mu.Unlock()

	ev := c.events.fireAuthorization(token, allowURLs, fresh)
	ev.Wait()
	if ev.Prevented() {
		return false, nil
	}

	c.mu.Lock()
	var kept []*authRecord
	for _, r := range c.records {
		r.allow = subtractPrefixes(r.allow, allowURLs)
		if len(r.allow) > 0 {
			kept = append(kept, r)
		}
	}
	kept = append(kept, &authRecord{token: token, allow: append([]string(nil), allowURLs...)})
	c.records = kept

	var resolved []*authChallenge
	for url, ch := range c.challenges {
		for _, prefix := range allowURLs {
			if matchURL(url, prefix) {
				resolved = append(resolved, ch)
				delete(c.challenges, url)
				break
			}
		}
	}
	c.mu.Unlock()

	for _, ch := range resolved {
		ch.d.resolve(token)
	}
	c.events.notifyChange()
	return true, nil
}

// invalidateForURL marks every record whose allow set matches url as
// invalid, regardless of its deny set. Called by the HTTP adapter on a
// 401/403 response so the token in use stops being offered for that URL.
func (c *authCoordinator) invalidateForURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		for _, prefix := range r.allow {
			if matchURL(url, prefix) {
				r.invalid = true
				break
			}
		}
	}
}

// cancelAuthorization narrows existing authorization records by adding
// denyURLs to their deny sets.
//
// denyURLs are used exactly as supplied by the caller, not canonicalized —
// callers that need prefix-normalized matching should canonicalize before
// calling.
func (c *authCoordinator) cancelAuthorization(denyURLs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		r.deny = append(r.deny, denyURLs...)
	}
}

// revokeAuthorization narrows authorization for denyURLs, optionally POSTs
// a logout URL, fires deauthorization, and — unless prevented — evicts
// every cached query whose URL falls under the revoked scope.
func (c *authCoordinator) revokeAuthorization(ctx context.Context, logoutURL string, denyURLs []string) error {
	c.cancelAuthorization(denyURLs)

	if logoutURL != "" {
		if _, err := c.transport.Post(ctx, logoutURL, nil); err != nil {
			return err
		}
	}

	ev := c.events.fireDeauthorization(denyURLs)
	ev.Wait()
	if ev.Prevented() {
		return nil
	}

	for _, q := range c.table.snapshot() {
		for _, denyURL := range denyURLs {
			if matchURL(q.URL, denyURL) {
				c.table.remove(q)
				break
			}
		}
	}
	c.events.notifyChange()
	return nil
}

// subtractPrefixes removes every entry of remove from allow.
func subtractPrefixes(allow, remove []string) []string {
	if len(remove) == 0 {
		return allow
	}
	removeSet := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		removeSet[r] = struct{}{}
	}
	var out []string
	for _, a := range allow {
		if _, drop := removeSet[a]; !drop {
			out = append(out, a)
		}
	}
	return out
}

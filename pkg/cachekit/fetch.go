package cachekit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

func errCollectionItemShape(item any) error {
	return fmt.Errorf("collection item is not a JSON object: %T", item)
}

func errCollectionShape(data any) error {
	return fmt.Errorf("unexpected collection response shape: %T", data)
}

// resolveOptions normalizes a possibly-nil *QueryOptions to a value.
func resolveOptions(opts *QueryOptions) QueryOptions {
	if opts == nil {
		return QueryOptions{}
	}
	return *opts
}

// resolveURL turns a caller-supplied URL into the absolute, canonical form
// the query table keys on: resolved against the base URL, HTTPS-forced if
// configured, and trailing-slash normalized.
func (c *Client) resolveURL(rawURL string) string {
	return canonicalURL(applyForceHTTPS(resolveAgainstBase(c.cfg.BaseURL, rawURL), c.cfg.ForceHTTPS))
}

// trackOperation runs fn wrapped in the client's observability hooks: gate,
// start, end. A gating hook (e.g. a circuit breaker) can reject fn outright.
func (c *Client) trackOperation(ctx context.Context, op OperationInfo, fn func(ctx context.Context) error) error {
	if gater, ok := c.hooks.(GatingHooks); ok {
		var err error
		ctx, err = gater.OnOperationGate(ctx, op)
		if err != nil {
			return err
		}
	}
	ctx = c.hooks.OnOperationStart(ctx, op)
	start := time.Now()
	err := fn(ctx)
	c.hooks.OnOperationEnd(ctx, op, err, time.Since(start))
	return err
}

// parseCollectionResponse interprets a decoded collection-GET body, which is
// either a bare JSON array (the complete, unpaginated list) or an object
// shaped {"count": N, "results": [...], "next": "url-or-null"} (one page of
// a paginated list).
func parseCollectionResponse(data any) (objects []map[string]any, total int, next string, paginated bool, err error) {
	switch v := data.(type) {
	case nil:
		return nil, 0, "", false, nil
	case []any:
		objects = make([]map[string]any, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, 0, "", false, ErrTransport(errCollectionItemShape(item))
			}
			objects = append(objects, obj)
		}
		return objects, len(objects), "", false, nil
	case map[string]any:
		results, _ := v["results"].([]any)
		objects = make([]map[string]any, 0, len(results))
		for _, item := range results {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, 0, "", false, ErrTransport(errCollectionItemShape(item))
			}
			objects = append(objects, obj)
		}
		if cnt, ok := v["count"].(float64); ok {
			total = int(cnt)
		} else {
			total = len(objects)
		}
		if n, ok := v["next"].(string); ok {
			next = n
		}
		return objects, total, next, true, nil
	default:
		return nil, 0, "", false, ErrTransport(errCollectionShape(data))
	}
}

// minimumCount normalizes the Minimum query option to a positive target
// count against total, if one was supplied. Minimum may be a positive
// number (used as-is), a percent string "NN%" (= ceil(total*NN/100)), or a
// negative number (= total+minimum, floored at 1). A falsy minimum (nil,
// 0, "") reports ok=false.
func minimumCount(minimum any, total int) (int, bool) {
	switch v := minimum.(type) {
	case int:
		return relativeMinimum(v, total)
	case int64:
		return relativeMinimum(int(v), total)
	case float64:
		return relativeMinimum(int(v), total)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if pct, ok := strings.CutSuffix(s, "%"); ok {
			n, err := strconv.ParseFloat(pct, 64)
			if err != nil || n <= 0 {
				return 0, false
			}
			count := int(math.Ceil(float64(total) * n / 100))
			if count < 1 {
				count = 1
			}
			return count, true
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return relativeMinimum(n, total)
	default:
		return 0, false
	}
}

// relativeMinimum resolves a numeric minimum: positive values are used
// as-is, negative values mean "total+minimum" (floored at 1), and zero is
// falsy (no minimum).
func relativeMinimum(n, total int) (int, bool) {
	if n == 0 {
		return 0, false
	}
	if n < 0 {
		n = total + n
		if n < 1 {
			n = 1
		}
	}
	return n, true
}

// getMinimumCount implements the fetch pipeline's getMinimum(options, total,
// default) contract in full: it resolves minimum the same way minimumCount
// does, but falls back to def instead of reporting "no minimum" when
// minimum is falsy.
func getMinimumCount(minimum any, total, def int) int {
	n, ok := minimumCount(minimum, total)
	if !ok {
		return def
	}
	return n
}

// FetchOne returns the cached object query for rawURL, fetching it if it is
// not yet cached or has expired. Concurrent callers for the same (url,
// options) pair share one in-flight fetch.
func (c *Client) FetchOne(ctx context.Context, rawURL string, opts *QueryOptions) (*Query, error) {
	o := resolveOptions(opts)
	absURL := c.resolveURL(rawURL)

	var result *Query
	err := c.trackOperation(ctx, OperationInfo{Service: "Query", Operation: "FetchOne", QueryType: "object", URL: absURL}, func(ctx context.Context) error {
		q := c.table.findQuery(queryObject, absURL, 0, o)
		if q == nil {
			q = c.table.deriveQuery(absURL, true)
		}
		if q != nil && !q.Expired() {
			result = q
			return nil
		}
		if q == nil {
			if _, err := o.resolveHooks(queryObject); err != nil {
				return err
			}
			q = newObjectQuery(absURL, o)
			c.table.insertFront(q)
		}
		if err := c.refreshObject(ctx, q); err != nil {
			return err
		}
		result = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// refreshObject performs (or joins an in-flight) GET for an object query,
// replacing its cached value and clearing its expired flag on success.
func (c *Client) refreshObject(ctx context.Context, q *Query) error {
	q.mu.Lock()
	if q.refreshing {
		pending := q.pending
		q.mu.Unlock()
		_, err := pending.wait(ctx)
		return err
	}
	q.refreshing = true
	pending := newDeferred[struct{}]()
	q.pending = pending
	q.mu.Unlock()

	obj, err := withActivationRetry(ctx, c.life, func(ctx context.Context) (map[string]any, error) {
		raw, err := c.http.Get(ctx, q.URL)
		if err != nil {
			return nil, err
		}
		return asObject(raw)
	})

	q.mu.Lock()
	q.refreshing = false
	q.pending = nil
	if err != nil {
		q.mu.Unlock()
		pending.reject(err)
		return err
	}
	q.object = obj
	q.expired = false
	q.fetchedAt = time.Now()
	q.mu.Unlock()

	pending.resolve(struct{}{})
	c.events.notifyChange()
	return nil
}

// FetchPage returns the cached page query for the given page number of
// rawURL's collection, fetching it if not yet cached or expired.
func (c *Client) FetchPage(ctx context.Context, rawURL string, page int, opts *QueryOptions) (*Query, error) {
	if page < 1 {
		page = 1
	}
	o := resolveOptions(opts)
	absURL := c.resolveURL(rawURL)

	var result *Query
	err := c.trackOperation(ctx, OperationInfo{Service: "Query", Operation: "FetchPage", QueryType: "page", URL: absURL, Page: page}, func(ctx context.Context) error {
		q := c.table.findQuery(queryPage, absURL, page, o)
		if q != nil && !q.Expired() {
			result = q
			return nil
		}
		if q == nil {
			if _, err := o.resolveHooks(queryPage); err != nil {
				return err
			}
			q = newPageQuery(absURL, page, o)
			c.table.insertFront(q)
		}
		if err := c.refreshPage(ctx, q, attachPageNumber(absURL, page)); err != nil {
			return err
		}
		result = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// refreshPage performs (or joins an in-flight) GET for a page query. On
// success it invalidates sibling pages of the same folder, since a shift in
// one page's boundary can shift every page after it.
func (c *Client) refreshPage(ctx context.Context, q *Query, pageURL string) error {
	q.mu.Lock()
	if q.refreshing {
		pending := q.pending
		q.mu.Unlock()
		_, err := pending.wait(ctx)
		return err
	}
	q.refreshing = true
	pending := newDeferred[struct{}]()
	q.pending = pending
	oldObjects := q.objects
	q.mu.Unlock()

	raw, err := withActivationRetry(ctx, c.life, func(ctx context.Context) (any, error) {
		return c.http.Get(ctx, pageURL)
	})

	q.mu.Lock()
	q.refreshing = false
	q.pending = nil
	if err != nil {
		q.mu.Unlock()
		pending.reject(err)
		return err
	}

	objects, total, next, _, perr := parseCollectionResponse(raw)
	if perr != nil {
		q.mu.Unlock()
		pending.reject(perr)
		return perr
	}
	replaceIdenticalObjects(objects, oldObjects)
	q.objects = objects
	q.total = total
	q.nextURL = next
	q.expired = false
	q.fetchedAt = time.Now()
	q.mu.Unlock()

	pending.resolve(struct{}{})
	c.invalidateSiblingPages(q)
	c.events.notifyChange()
	return nil
}

// invalidateSiblingPages marks every other page query of q's folder
// expired, so the next read re-fetches it instead of trusting boundaries
// that may have shifted.
func (c *Client) invalidateSiblingPages(q *Query) {
	for _, other := range c.table.snapshot() {
		if other == q || other.Type != queryPage || other.URL != q.URL {
			continue
		}
		other.markExpired()
	}
}

// FetchList returns the cached list query for rawURL, walking as many pages
// as needed to satisfy opts.Minimum (if set), fetching from scratch if not
// yet cached or expired.
func (c *Client) FetchList(ctx context.Context, rawURL string, opts *QueryOptions) (*Query, error) {
	o := resolveOptions(opts)
	absURL := c.resolveURL(rawURL)

	var result *Query
	err := c.trackOperation(ctx, OperationInfo{Service: "Query", Operation: "FetchList", QueryType: "list", URL: absURL}, func(ctx context.Context) error {
		q := c.table.findQuery(queryList, absURL, 0, o)
		if q == nil {
			if _, err := o.resolveHooks(queryList); err != nil {
				return err
			}
			q = newListQuery(absURL, o)
			c.table.insertFront(q)
		}
		if q.Expired() || q.FetchedAt().IsZero() {
			if err := c.refreshList(ctx, q); err != nil {
				return err
			}
		}
		if err := c.getMinimum(ctx, q, o.Minimum); err != nil {
			return err
		}
		result = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// refreshList performs (or joins an in-flight) GET of a list query's first
// page and rejoins any already-fetched tail that page no longer covers.
// Later pages are not re-fetched, and More calls made while the refresh is
// in flight are not held back until it completes.
func (c *Client) refreshList(ctx context.Context, q *Query) error {
	q.mu.Lock()
	if q.refreshing {
		pending := q.pending
		q.mu.Unlock()
		_, err := pending.wait(ctx)
		return err
	}
	q.refreshing = true
	pending := newDeferred[struct{}]()
	q.pending = pending
	oldObjects := q.objects
	q.mu.Unlock()

	raw, err := withActivationRetry(ctx, c.life, func(ctx context.Context) (any, error) {
		return c.http.Get(ctx, q.URL)
	})

	q.mu.Lock()
	q.refreshing = false
	q.pending = nil
	if err != nil {
		q.mu.Unlock()
		pending.reject(err)
		return err
	}

	objects, total, next, paginated, perr := parseCollectionResponse(raw)
	if perr != nil {
		q.mu.Unlock()
		pending.reject(perr)
		return perr
	}
	replaceIdenticalObjects(objects, oldObjects)
	q.objects = joinObjectLists(objects, oldObjects)
	q.total = total
	q.expired = false
	q.fetchedAt = time.Now()
	if paginated && next != "" {
		q.nextURL = next
		q.nextPage = 2
		q.more = func(ctx context.Context) ([]map[string]any, error) {
			return c.fetchNextPage(ctx, q)
		}
	} else {
		q.nextURL = ""
		q.more = nil
	}
	q.mu.Unlock()

	pending.resolve(struct{}{})
	c.events.notifyChange()
	return nil
}

// fetchNextPage fetches the next page of a list query and appends its
// results, skipping any entry already present. Concurrent callers park on
// one shared promise.
func (c *Client) fetchNextPage(ctx context.Context, q *Query) ([]map[string]any, error) {
	q.mu.Lock()
	nextURL := q.nextURL
	if nextURL == "" {
		q.mu.Unlock()
		return nil, nil
	}
	if q.nextPromise != nil {
		promise := q.nextPromise
		q.mu.Unlock()
		return promise.wait(ctx)
	}
	promise := newDeferred[[]map[string]any]()
	q.nextPromise = promise
	q.mu.Unlock()

	raw, err := withActivationRetry(ctx, c.life, func(ctx context.Context) (any, error) {
		return c.http.Get(ctx, nextURL)
	})

	q.mu.Lock()
	q.nextPromise = nil
	if err != nil {
		q.mu.Unlock()
		promise.reject(err)
		return nil, err
	}

	objects, total, next, _, perr := parseCollectionResponse(raw)
	if perr != nil {
		q.mu.Unlock()
		promise.reject(perr)
		return nil, perr
	}

	q.objects = appendObjects(q.objects, objects)
	q.total = total
	q.nextPage++
	q.nextURL = next
	if next == "" {
		q.more = nil
	}
	q.mu.Unlock()

	promise.resolve(objects)
	c.events.notifyChange()
	return objects, nil
}

// getMinimum walks additional pages of q until it holds at least `minimum`
// objects or the server reports no more pages. minimum is re-resolved
// against the query's current server-reported total on every iteration, so
// a percent-string or relative minimum tracks total as it's discovered.
func (c *Client) getMinimum(ctx context.Context, q *Query, minimum any) error {
	for {
		q.mu.Lock()
		have := len(q.objects)
		hasMore := q.nextURL != ""
		total := q.total
		q.mu.Unlock()
		n, ok := minimumCount(minimum, total)
		if !ok {
			return nil
		}
		if have >= n || !hasMore {
			return nil
		}
		if _, err := c.fetchNextPage(ctx, q); err != nil {
			return err
		}
	}
}

// FetchMultiple fetches several object URLs, returning one *Query per input
// URL in the same order. URLs already present in the cache (as a direct
// object query or derivable from a cached list/page) are resolved without a
// network call. If the number already cached meets getMinimumCount(opts.
// Minimum, len(urls), len(urls)), FetchMultiple resolves immediately with
// the partial result — a nil entry for every URL still being fetched — and
// fetches the remainder in the background, firing a change event once it
// lands. Otherwise it awaits every URL and, if any fetch fails, returns a
// *BatchError alongside the partial results (a nil entry marks a failed
// fetch).
func (c *Client) FetchMultiple(ctx context.Context, urls []string, opts *QueryOptions) ([]*Query, error) {
	o := resolveOptions(opts)
	// Minimum applies to the batch as a whole, not to each object query.
	objOpts := o
	objOpts.Minimum = nil
	results := make([]*Query, len(urls))
	var pending []int

	for i, u := range urls {
		absURL := c.resolveURL(u)
		if q := c.table.findQuery(queryObject, absURL, 0, objOpts); q != nil && !q.Expired() {
			results[i] = q
			continue
		}
		if q := c.table.deriveQuery(absURL, false); q != nil {
			results[i] = q
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return results, nil
	}

	minimum := getMinimumCount(o.Minimum, len(urls), len(urls))
	cached := len(urls) - len(pending)
	if cached >= minimum {
		bg := append([]int(nil), pending...)
		go func() {
			bgCtx := context.WithoutCancel(ctx)
			var wg sync.WaitGroup
			for _, i := range bg {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					c.FetchOne(bgCtx, urls[i], &objOpts)
				}(i)
			}
			wg.Wait()
			c.events.notifyChange()
		}()
		return results, nil
	}

	errs := make([]error, len(pending))
	var wg sync.WaitGroup
	for j, i := range pending {
		wg.Add(1)
		go func(j, i int) {
			defer wg.Done()
			q, err := c.FetchOne(ctx, urls[i], &objOpts)
			results[i] = q
			errs[j] = err
		}(j, i)
	}
	wg.Wait()

	failed := false
	for _, e := range errs {
		if e != nil {
			failed = true
			break
		}
	}
	if !failed {
		return results, nil
	}

	allErrs := make([]error, len(urls))
	var first error
	for j, i := range pending {
		allErrs[i] = errs[j]
		if allErrs[i] != nil && first == nil {
			first = allErrs[i]
		}
	}
	out := make([]any, len(results))
	for i, q := range results {
		out[i] = q
	}
	return results, &BatchError{Results: out, Errors: allErrs, First: first}
}

package cachekit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// queryType distinguishes the three cacheable read shapes .
type queryType int

const (
	queryObject queryType = iota
	queryPage
	queryList
)

func (t queryType) String() string {
	switch t {
	case queryObject:
		return "object"
	case queryPage:
		return "page"
	case queryList:
		return "list"
	default:
		return "unknown"
	}
}

// QueryOptions holds the per-query options recognized by the cache:
// minimum (fetchList/fetchMultiple only), abbreviated, and the three
// propagation hooks. A nil hook pointer means "use the default for this
// query type" (see defaultQueryHooks).
type QueryOptions struct {
	Minimum     any
	Abbreviated bool
	AfterInsert *Hook
	AfterUpdate *Hook
	AfterDelete *Hook
}

// optionsKey is the comparable projection of QueryOptions used by
// findQuery's structural-equality lookup. Custom hook functions
// compare equal to each other by kind alone, not by closure identity —
// two distinct custom hooks on an otherwise-identical query are treated
// as the same cache key, which matches how the source's string-or-function
// options are compared for config purposes, not value purposes.
type optionsKey struct {
	minimum     string
	abbreviated bool
	afterInsert HookKind
	afterUpdate HookKind
	afterDelete HookKind
}

func (o QueryOptions) key() optionsKey {
	k := optionsKey{abbreviated: o.Abbreviated}
	switch v := o.Minimum.(type) {
	case nil:
		k.minimum = ""
	case int:
		k.minimum = strconv.Itoa(v)
	case string:
		k.minimum = v
	default:
		k.minimum = fmt.Sprintf("%v", v)
	}
	if o.AfterInsert != nil {
		k.afterInsert = o.AfterInsert.Kind
	}
	if o.AfterUpdate != nil {
		k.afterUpdate = o.AfterUpdate.Kind
	}
	if o.AfterDelete != nil {
		k.afterDelete = o.AfterDelete.Kind
	}
	return k
}

// resolveHooks resolves this query's effective hooks for query type qt,
// overlaying any explicitly-set options onto the type's defaults.
func (o QueryOptions) resolveHooks(qt queryType) (QueryHooks, error) {
	var override QueryHooks
	hasInsert := o.AfterInsert != nil
	hasUpdate := o.AfterUpdate != nil
	hasDelete := o.AfterDelete != nil
	if hasInsert {
		override.AfterInsert = *o.AfterInsert
	}
	if hasUpdate {
		override.AfterUpdate = *o.AfterUpdate
	}
	if hasDelete {
		override.AfterDelete = *o.AfterDelete
	}
	return resolveQueryHooks(qt, override, hasInsert, hasUpdate, hasDelete)
}

// moreFunc fetches the next page of a list query, or resolves immediately
// with nil if there is nothing more to fetch.
type moreFunc func(ctx context.Context) ([]map[string]any, error)

// Query is a single cached read . Fields beyond the identity key
// (Type, URL, Page, Options) are mutated only by the fetch pipeline or the
// propagation engine, guarded by mu.
type Query struct {
	mu sync.Mutex

	Type    queryType
	URL     string
	Page    int
	Options QueryOptions

	object  map[string]any
	objects []map[string]any
	total   int

	fetchedAt  time.Time
	expired    bool
	refreshing bool

	nextURL  string
	nextPage int
	more     moreFunc

	nextPromise *deferred[[]map[string]any]
	pending     *deferred[struct{}]
}

func newObjectQuery(url string, opts QueryOptions) *Query {
	return &Query{Type: queryObject, URL: url, Options: opts}
}

func newPageQuery(url string, page int, opts QueryOptions) *Query {
	return &Query{Type: queryPage, URL: url, Page: page, Options: opts}
}

func newListQuery(url string, opts QueryOptions) *Query {
	return &Query{Type: queryList, URL: url, Page: 1, Options: opts}
}

// Object returns the cached object (type=object queries only).
func (q *Query) Object() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.object
}

// Objects returns the cached result list (type=page/list queries only).
func (q *Query) Objects() []map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.objects
}

// Total returns the server-reported count attached to a list/page result.
func (q *Query) Total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Expired reports whether the query's data is stale.
func (q *Query) Expired() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.expired
}

// FetchedAt returns the wall-clock time of the latest successful fetch.
func (q *Query) FetchedAt() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetchedAt
}

func (q *Query) markExpired() {
	q.mu.Lock()
	q.expired = true
	q.mu.Unlock()
}

// More fetches the next page of a list or page query, appending the
// results to Objects() and advancing the query's pagination cursor. It
// returns nil, nil if there is nothing more to fetch (a non-paginated or
// already-exhausted query). Safe to call from multiple goroutines; More
// itself does not dedupe concurrent calls beyond the fetch pipeline's own
// locking.
func (q *Query) More(ctx context.Context) ([]map[string]any, error) {
	q.mu.Lock()
	fn := q.more
	q.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

// queryTable is the process-wide (per-Client) store of cached queries.
// Each Client owns exactly one; two clients never share a table.
type queryTable struct {
	mu      sync.Mutex
	entries []*Query
}

func newQueryTable() *queryTable {
	return &queryTable{}
}

// insertFront adds q at the head of the table, per the fetch pipeline's
// "insert fresh object query at the head" rule.
func (t *queryTable) insertFront(q *Query) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append([]*Query{q}, t.entries...)
}

func (t *queryTable) remove(q *Query) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e == q {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// snapshot returns a stable copy of the table for iteration without
// holding the table lock across per-query work.
func (t *queryTable) snapshot() []*Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Query, len(t.entries))
	copy(out, t.entries)
	return out
}

// findQuery returns the single entry matching (type, url, page, options):
// at most one query exists per tuple.
func (t *queryTable) findQuery(qt queryType, url string, page int, opts QueryOptions) *Query {
	key := opts.key()
	for _, q := range t.snapshot() {
		if q.Type != qt || q.URL != url {
			continue
		}
		if qt == queryPage && q.Page != page {
			continue
		}
		if q.Options.key() != key {
			continue
		}
		return q
	}
	return nil
}

// deriveQuery synthesizes an object-typed query from a cached,
// non-expired, non-abbreviated list/page query whose results contain an
// object whose canonical URL is absURL. When insert is true, the
// derived query is spliced onto the front of the table. Returns nil if no
// such list/page query exists.
func (t *queryTable) deriveQuery(absURL string, insert bool) *Query {
	f := folder(absURL)
	for _, q := range t.snapshot() {
		if q.Type != queryList && q.Type != queryPage {
			continue
		}
		if q.Options.Abbreviated || q.Expired() {
			continue
		}
		if listPath, _ := splitQuery(q.URL); listPath != f {
			continue
		}

		q.mu.Lock()
		objects := q.objects
		fetchedAt := q.fetchedAt
		q.mu.Unlock()

		for _, obj := range objects {
			if objectURL(f, obj) == absURL {
				derived := &Query{
					Type:      queryObject,
					URL:       absURL,
					object:    obj,
					fetchedAt: fetchedAt,
				}
				if insert {
					t.insertFront(derived)
				}
				return derived
			}
		}
	}
	return nil
}

// invalidate sets expired=true on every query whose fetchedAt is at or
// before cutoff (or all queries, if hasCutoff is false).
func (t *queryTable) invalidate(cutoff time.Time, hasCutoff bool) {
	for _, q := range t.snapshot() {
		q.mu.Lock()
		if !hasCutoff || !q.fetchedAt.After(cutoff) {
			q.expired = true
		}
		q.mu.Unlock()
	}
}

// invalidateOlderThan marks expired every query whose data is older than
// refreshInterval. Driven by the lifecycle controller's background ticker.
func (t *queryTable) invalidateOlderThan(refreshInterval time.Duration) {
	cutoff := time.Now().Add(-refreshInterval)
	for _, q := range t.snapshot() {
		q.mu.Lock()
		if q.fetchedAt.Before(cutoff) {
			q.expired = true
		}
		q.mu.Unlock()
	}
}

// isCached reports whether an object query for absURL already exists in
// the table (used by callers to verify derivation, test property 2).
func (t *queryTable) isCached(absURL string) bool {
	for _, q := range t.snapshot() {
		if q.Type == queryObject && q.URL == absURL {
			return true
		}
	}
	return false
}

package cachekit

import (
	"context"
	"sync"
)

// InsertOne posts a single object to folderURL and propagates the result to
// every matching cached query's afterInsert hook.
func (c *Client) InsertOne(ctx context.Context, folderURL string, input map[string]any) (map[string]any, error) {
	results, err := c.InsertMultiple(ctx, folderURL, []map[string]any{input})
	if err != nil {
		if batch, ok := err.(*BatchError); ok && batch.First != nil {
			return nil, batch.First
		}
		return nil, err
	}
	return results[0], nil
}

// InsertMultiple posts each input to folderURL concurrently and propagates
// every success to the afterInsert hook of every cached query matching that
// folder (except none — insert has no originating query to exclude).
func (c *Client) InsertMultiple(ctx context.Context, folderURL string, inputs []map[string]any) ([]map[string]any, error) {
	absURL := c.resolveURL(folderURL)
	var results []map[string]any
	err := c.trackOperation(ctx, OperationInfo{Service: "Propagation", Operation: "InsertMultiple", URL: absURL, IsMutation: true}, func(ctx context.Context) error {
		objs, errs := c.dispatchWrites(ctx, inputs, func(ctx context.Context, in map[string]any) (map[string]any, error) {
			return c.http.Post(ctx, absURL, in)
		})
		results = objs

		var fresh []map[string]any
		rejected := false
		for i, obj := range objs {
			switch {
			case errs[i] == nil && obj != nil:
				fresh = append(fresh, obj)
			case errs[i] != nil && isRejectStatus(statusOf(errs[i])):
				rejected = true
			}
		}
		changed := false
		if len(fresh) > 0 {
			c.propagate(absURL, nil, func(q *Query, hooks QueryHooks) {
				c.applyInsert(q, hooks.AfterInsert, fresh)
			})
			changed = true
		}
		if rejected {
			// A reject on insert means the folder's cached lists/pages no
			// longer reflect the server's state: force them expired
			// regardless of the folder's configured afterInsert hook.
			c.forceExpireRejected(absURL, "")
			changed = true
		}
		if changed {
			c.events.notifyChange()
		}
		return batchErrorOrNil(toAnySlice(objs), errs)
	})
	if err != nil {
		return results, err
	}
	return results, nil
}

// UpdateOne PUTs a single object and propagates the result to every
// matching cached query's afterUpdate hook.
func (c *Client) UpdateOne(ctx context.Context, objURL string, input map[string]any) (map[string]any, error) {
	results, err := c.UpdateMultiple(ctx, []string{objURL}, []map[string]any{input})
	if err != nil {
		if batch, ok := err.(*BatchError); ok && batch.First != nil {
			return nil, batch.First
		}
		return nil, err
	}
	return results[0], nil
}

// UpdateMultiple PUTs each (url, input) pair concurrently and propagates
// every success to the afterUpdate hook of every cached query matching that
// object's folder, excluding the object query being updated itself (which is
// updated directly from the response).
func (c *Client) UpdateMultiple(ctx context.Context, urls []string, inputs []map[string]any) ([]map[string]any, error) {
	if len(urls) != len(inputs) {
		return nil, ErrUsage("updateMultiple: urls and inputs must be the same length")
	}
	absURLs := make([]string, len(urls))
	for i, u := range urls {
		absURLs[i] = c.resolveURL(u)
	}

	var results []map[string]any
	err := c.trackOperation(ctx, OperationInfo{Service: "Propagation", Operation: "UpdateMultiple", IsMutation: true}, func(ctx context.Context) error {
		objs := make([]map[string]any, len(absURLs))
		errs := make([]error, len(absURLs))

		var wg sync.WaitGroup
		for i, u := range absURLs {
			wg.Add(1)
			go func(i int, u string, in map[string]any) {
				defer wg.Done()
				obj, err := c.http.Put(ctx, u, in)
				objs[i] = obj
				errs[i] = err
			}(i, u, inputs[i])
		}
		wg.Wait()
		results = objs

		changed := false
		for i, obj := range objs {
			excludeURL := absURLs[i]
			folderURL := folder(excludeURL)
			switch {
			case errs[i] == nil && obj != nil:
				c.propagate(folderURL, &excludeURL, func(q *Query, hooks QueryHooks) {
					c.applyUpdate(q, hooks.AfterUpdate, obj)
				})
				c.updateObjectQuery(excludeURL, obj)
				changed = true
			case errs[i] != nil && isRejectStatus(statusOf(errs[i])):
				// A reject on update means the object and its folder's
				// cached lists/pages no longer reflect the server's state:
				// force them expired regardless of the configured
				// afterUpdate hook.
				c.forceExpireRejected(folderURL, excludeURL)
				changed = true
			}
		}
		if changed {
			c.events.notifyChange()
		}
		return batchErrorOrNil(toAnySlice(objs), errs)
	})
	if err != nil {
		return results, err
	}
	return results, nil
}

// DeleteOne deletes a single object and propagates the deletion to every
// matching cached query's afterDelete hook.
func (c *Client) DeleteOne(ctx context.Context, objURL string) error {
	err := c.DeleteMultiple(ctx, []string{objURL})
	if batch, ok := err.(*BatchError); ok && batch.First != nil {
		return batch.First
	}
	return err
}

// DeleteMultiple deletes each object concurrently and propagates every
// success to the afterDelete hook of every cached query matching that
// object's folder, and removes the object's own cached object query.
func (c *Client) DeleteMultiple(ctx context.Context, urls []string) error {
	absURLs := make([]string, len(urls))
	for i, u := range urls {
		absURLs[i] = c.resolveURL(u)
	}

	return c.trackOperation(ctx, OperationInfo{Service: "Propagation", Operation: "DeleteMultiple", IsMutation: true}, func(ctx context.Context) error {
		errs := make([]error, len(absURLs))

		var wg sync.WaitGroup
		for i, u := range absURLs {
			wg.Add(1)
			go func(i int, u string) {
				defer wg.Done()
				_, err := c.http.Delete(ctx, u)
				errs[i] = err
			}(i, u)
		}
		wg.Wait()

		for i, u := range absURLs {
			switch {
			case errs[i] == nil:
				folderURL := folder(u)
				deletedURL := u
				c.propagate(folderURL, nil, func(q *Query, hooks QueryHooks) {
					c.applyDelete(q, hooks.AfterDelete, deletedURL)
				})
				c.removeObjectQuery(u)
			case isRejectStatus(statusOf(errs[i])):
				// A 404/409/410 on delete means the object is already gone:
				// treat it as success for the final batch result, but force
				// the folder's cached lists/pages expired unconditionally,
				// independent of the folder's configured afterDelete hook
				// (which never runs for a reject).
				c.forceExpireRejected(folder(u), u)
				c.removeObjectQuery(u)
				errs[i] = nil
			}
		}
		c.events.notifyChange()

		dummy := make([]any, len(errs))
		return batchErrorOrNil(dummy, errs)
	})
}

// statusOf extracts the HTTP status from err, if it is an *Error of kind
// CodeHTTP, or 0 otherwise. A 404/409/410 on delete is treated as "already
// gone" for propagation purposes, not a failure.
func statusOf(err error) int {
	if err == nil {
		return 0
	}
	if e := AsError(err); e.Code == CodeHTTP {
		return e.HTTPStatus
	}
	return 0
}

// dispatchWrites runs fn over inputs concurrently, returning aligned result
// and error slices.
func (c *Client) dispatchWrites(ctx context.Context, inputs []map[string]any, fn func(ctx context.Context, in map[string]any) (map[string]any, error)) ([]map[string]any, []error) {
	objs := make([]map[string]any, len(inputs))
	errs := make([]error, len(inputs))

	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in map[string]any) {
			defer wg.Done()
			obj, err := fn(ctx, in)
			objs[i] = obj
			errs[i] = err
		}(i, in)
	}
	wg.Wait()
	return objs, errs
}

// propagate walks every cached list/page query whose folder matches
// folderURL (except the query whose URL equals excludeURL, if set), applying
// apply to each under its own lock.
func (c *Client) propagate(folderURL string, excludeURL *string, apply func(q *Query, hooks QueryHooks)) {
	for _, q := range c.table.snapshot() {
		if q.Type != queryList && q.Type != queryPage {
			continue
		}
		if listPath, _ := splitQuery(q.URL); listPath != folderURL {
			continue
		}
		if excludeURL != nil && q.URL == *excludeURL {
			continue
		}
		hooks, err := q.Options.resolveHooks(q.Type)
		if err != nil {
			q.markExpired()
			continue
		}
		apply(q, hooks)
	}
}

// forceExpireRejected marks expired every cached query affected by a write
// the server rejected (404/409/410): every list/page query in folderURL,
// plus the dedicated object query for objURL if one is cached. Rejects are
// never routed through a query's configured propagation hook — Ignore,
// Replace, and the rest only apply to genuine successes.
func (c *Client) forceExpireRejected(folderURL, objURL string) {
	for _, q := range c.table.snapshot() {
		switch q.Type {
		case queryObject:
			if objURL != "" && q.URL == objURL {
				q.markExpired()
			}
		case queryPage, queryList:
			if listPath, _ := splitQuery(q.URL); listPath == folderURL {
				q.markExpired()
			}
		}
	}
}

// applyInsert applies hook to q for a batch of freshly inserted objects.
func (c *Client) applyInsert(q *Query, hook Hook, inserted []map[string]any) {
	switch hook.Kind {
	case HookIgnore:
		return
	case HookRefresh:
		q.markExpired()
	case HookUnshift:
		q.mu.Lock()
		q.objects = appendObjects(append([]map[string]any(nil), inserted...), q.objects)
		q.total += len(inserted)
		q.mu.Unlock()
	case HookPush:
		q.mu.Lock()
		q.objects = appendObjects(q.objects, inserted)
		q.total += len(inserted)
		q.mu.Unlock()
	case HookReplace, HookRemove:
		// Replace/Remove are insert no-ops: there is nothing cached yet to
		// replace or remove for a brand-new object.
	case HookCustom:
		c.applyCustom(q, hook.Fn, inserted)
	}
}

// applyUpdate applies hook to q for a single updated object.
func (c *Client) applyUpdate(q *Query, hook Hook, updated map[string]any) {
	switch hook.Kind {
	case HookIgnore:
		return
	case HookRefresh:
		q.markExpired()
	case HookReplace:
		q.mu.Lock()
		idx := findObjectIndex(q.objects, updated)
		if idx >= 0 && !matchObject(q.objects[idx], updated) {
			q.objects[idx] = updated
		}
		q.mu.Unlock()
	case HookRemove:
		q.mu.Lock()
		idx := findObjectIndex(q.objects, updated)
		if idx >= 0 {
			q.objects = append(q.objects[:idx], q.objects[idx+1:]...)
			if q.total > 0 {
				q.total--
			}
		}
		q.mu.Unlock()
	case HookUnshift, HookPush:
		// Not valid for afterUpdate; resolveQueryHooks already rejects these
		// at option-resolution time.
	case HookCustom:
		c.applyCustom(q, hook.Fn, updated)
	}
}

// applyDelete applies hook to q for a single deleted object's URL.
func (c *Client) applyDelete(q *Query, hook Hook, deletedURL string) {
	switch hook.Kind {
	case HookIgnore:
		return
	case HookRefresh:
		q.markExpired()
	case HookRemove:
		listPath, _ := splitQuery(q.URL)
		q.mu.Lock()
		idx := -1
		for i, obj := range q.objects {
			if objectURL(listPath, obj) == deletedURL {
				idx = i
				break
			}
		}
		if idx >= 0 {
			q.objects = append(q.objects[:idx], q.objects[idx+1:]...)
			if q.total > 0 {
				q.total--
			}
		}
		q.mu.Unlock()
	case HookReplace, HookUnshift, HookPush:
		// Not valid for afterDelete; resolveQueryHooks already rejects these
		// at option-resolution time.
	case HookCustom:
		c.applyCustom(q, hook.Fn, deletedURL)
	}
}

// applyCustom runs a caller-supplied hook function against q's current
// value, recomputing total when a list/page result is replaced wholesale.
func (c *Client) applyCustom(q *Query, fn HookFunc, input any) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	var cached any
	if q.Type == queryObject {
		cached = q.object
	} else {
		cached = q.objects
	}
	q.mu.Unlock()

	outcome := fn(cached, input)
	switch {
	case outcome.NoChange:
		return
	case outcome.MarkExpired:
		q.markExpired()
	default:
		q.mu.Lock()
		switch v := outcome.Replacement.(type) {
		case map[string]any:
			q.object = v
		case []map[string]any:
			q.objects = v
			q.total = len(v)
		}
		q.mu.Unlock()
	}
}

// updateObjectQuery refreshes the dedicated object query for url in place,
// if one is cached, so a direct FetchOne afterward sees the fresh value
// without a network round trip.
func (c *Client) updateObjectQuery(url string, obj map[string]any) {
	for _, q := range c.table.snapshot() {
		if q.Type == queryObject && q.URL == url {
			q.mu.Lock()
			q.object = obj
			q.expired = false
			q.mu.Unlock()
		}
	}
}

// removeObjectQuery evicts the dedicated object query for url, if cached.
func (c *Client) removeObjectQuery(url string) {
	for _, q := range c.table.snapshot() {
		if q.Type == queryObject && q.URL == url {
			c.table.remove(q)
		}
	}
}

func toAnySlice(objs []map[string]any) []any {
	out := make([]any, len(objs))
	for i, o := range objs {
		out[i] = o
	}
	return out
}

func anyNonNil(errs []error) bool {
	for _, e := range errs {
		if e != nil {
			return true
		}
	}
	return false
}

// batchErrorOrNil returns nil if every err is nil, else a *BatchError
// aligned to results/errs.
func batchErrorOrNil(results []any, errs []error) error {
	var first error
	for _, e := range errs {
		if e != nil {
			first = e
			break
		}
	}
	if first == nil {
		return nil
	}
	return &BatchError{Results: results, Errors: errs, First: first}
}

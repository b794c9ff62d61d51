package cachekit

import "reflect"

// matchObject reports whether a and b are structurally equal: the same
// JSON shape, deeply. Payloads are opaque decoded JSON (map[string]any,
// []any, and scalars), so there are no function values to special-case —
// reflect.DeepEqual already implements the deep structural comparison the
// cache needs.
func matchObject(a, b map[string]any) bool {
	return reflect.DeepEqual(a, b)
}

// findObjectIndex returns the index of the entry in list matching o by
// identity key (id if present, else url), or -1 if none matches.
func findObjectIndex(list []map[string]any, o map[string]any) int {
	key, ok := identityKey(o)
	if !ok {
		return -1
	}
	for i, item := range list {
		if k, ok := identityKey(item); ok && k == key {
			return i
		}
	}
	return -1
}

// replaceIdenticalObjects rewrites newList in place: wherever an entry
// matches an entry in oldList by identity key and the two are structurally
// equal, the oldList reference is substituted so downstream reference
// equality detects "unchanged" items. It returns the subset of
// newList whose entries are genuinely fresh (no structurally-equal match
// in oldList) — nil if nothing changed.
func replaceIdenticalObjects(newList, oldList []map[string]any) []map[string]any {
	var fresh []map[string]any
	for i, n := range newList {
		idx := findObjectIndex(oldList, n)
		if idx < 0 {
			fresh = append(fresh, n)
			continue
		}
		old := oldList[idx]
		if matchObject(n, old) {
			newList[i] = old
		} else {
			fresh = append(fresh, n)
		}
	}
	return fresh
}

// cloneObject returns a shallow copy of obj's top-level keys, sufficient
// for attaching bookkeeping without mutating a cached reference.
func cloneObject(obj map[string]any) map[string]any {
	if obj == nil {
		return nil
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// appendObjects appends src onto dst, skipping any entry already present
// in dst by identity key. Used when stitching paginated results.
func appendObjects(dst, src []map[string]any) []map[string]any {
	seen := make(map[string]struct{}, len(dst))
	for _, o := range dst {
		if k, ok := identityKey(o); ok {
			seen[k] = struct{}{}
		}
	}
	for _, o := range src {
		k, ok := identityKey(o)
		if ok {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		dst = append(dst, o)
	}
	return dst
}

// joinObjectLists finds the largest
// suffix of oldList that does not intersect newList (by identity key),
// and concatenate that suffix onto newList. This preserves items the
// caller has already scrolled past but that no longer appear in the
// server's re-walked prefix.
func joinObjectLists(newList, oldList []map[string]any) []map[string]any {
	if len(oldList) == 0 {
		return newList
	}

	newKeys := make(map[string]struct{}, len(newList))
	for _, o := range newList {
		if k, ok := identityKey(o); ok {
			newKeys[k] = struct{}{}
		}
	}

	// Walk oldList from the end; the suffix starts at the first (from the
	// end) position whose entry intersects newList, exclusive of that
	// position — i.e. the largest trailing run with no overlap.
	cut := len(oldList)
	for i := len(oldList) - 1; i >= 0; i-- {
		k, ok := identityKey(oldList[i])
		if ok {
			if _, intersects := newKeys[k]; intersects {
				break
			}
		}
		cut = i
	}

	suffix := oldList[cut:]
	if len(suffix) == 0 {
		return newList
	}
	out := make([]map[string]any, 0, len(newList)+len(suffix))
	out = append(out, newList...)
	out = append(out, suffix...)
	return out
}

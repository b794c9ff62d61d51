package cachekit

// HookKind identifies one of the named propagation hook behaviors, or a
// caller-supplied custom function.
type HookKind int

const (
	// HookRefresh marks the query expired (refresh on next read).
	HookRefresh HookKind = iota
	// HookIgnore makes no change.
	HookIgnore
	// HookReplace replaces the cached value (object) or matching entries
	// in place (list/page) when they differ.
	HookReplace
	// HookUnshift prepends new entries. Valid only for list/page queries.
	HookUnshift
	// HookPush appends new entries. Valid only for list/page queries.
	HookPush
	// HookRemove drops the query (object) or filters out matching entries
	// (list/page).
	HookRemove
	// HookCustom runs a caller-supplied function.
	HookCustom
)

func (k HookKind) String() string {
	switch k {
	case HookRefresh:
		return "refresh"
	case HookIgnore:
		return "ignore"
	case HookReplace:
		return "replace"
	case HookUnshift:
		return "unshift"
	case HookPush:
		return "push"
	case HookRemove:
		return "remove"
	case HookCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// HookOutcome is what a custom hook function returns: either "no change",
// "mark expired", or a replacement value.
type HookOutcome struct {
	// NoChange, when true, means the cached value is untouched.
	NoChange bool
	// MarkExpired, when true, means the query should be marked expired.
	MarkExpired bool
	// Replacement holds the new cached value when neither of the above is set.
	Replacement any
}

// HookFunc is a caller-supplied propagation hook: given the currently
// cached value and the write's input, it decides how the cache entry
// should change.
type HookFunc func(cached, input any) HookOutcome

// Hook is a tagged union over the named hook vocabulary and a custom
// function, resolved per query type at propagation time.
type Hook struct {
	Kind HookKind
	Fn   HookFunc
}

var (
	// Refresh marks the query expired.
	Refresh = Hook{Kind: HookRefresh}
	// Ignore makes no change.
	Ignore = Hook{Kind: HookIgnore}
	// Replace replaces the cached value where it differs.
	Replace = Hook{Kind: HookReplace}
	// Unshift prepends new entries (list/page only).
	Unshift = Hook{Kind: HookUnshift}
	// Push appends new entries (list/page only).
	Push = Hook{Kind: HookPush}
	// Remove drops the query (object) or filters matching entries (list/page).
	Remove = Hook{Kind: HookRemove}
)

// Custom wraps a caller-supplied function as a Hook.
func Custom(fn HookFunc) Hook {
	return Hook{Kind: HookCustom, Fn: fn}
}

// validForQueryType reports whether kind is a legal hook for the given
// query type — unshift/push only make sense for list and page queries.
func (k HookKind) validForQueryType(qt queryType) bool {
	switch k {
	case HookUnshift, HookPush:
		return qt == queryList || qt == queryPage
	default:
		return true
	}
}

// QueryHooks holds the three write-propagation hooks recognized as
// per-query options: afterInsert, afterUpdate, afterDelete.
type QueryHooks struct {
	AfterInsert Hook
	AfterUpdate Hook
	AfterDelete Hook
}

// defaultQueryHooks returns the hook defaults for a query of the given
// type, per the table below: afterInsert=refresh; afterUpdate=replace
// (object) / refresh (list/page); afterDelete=remove (object, list) /
// refresh (page).
func defaultQueryHooks(qt queryType) QueryHooks {
	h := QueryHooks{AfterInsert: Refresh}
	switch qt {
	case queryObject:
		h.AfterUpdate = Replace
		h.AfterDelete = Remove
	case queryPage:
		h.AfterUpdate = Refresh
		h.AfterDelete = Refresh
	case queryList:
		h.AfterUpdate = Refresh
		h.AfterDelete = Remove
	}
	return h
}

// resolveQueryHooks overlays any caller-supplied hooks (from per-query
// options) onto the defaults for qt, rejecting hooks that are not valid
// for that query type (e.g. unshift on an object query).
func resolveQueryHooks(qt queryType, override QueryHooks, hasInsert, hasUpdate, hasDelete bool) (QueryHooks, error) {
	h := defaultQueryHooks(qt)
	if hasInsert {
		if !override.AfterInsert.Kind.validForQueryType(qt) {
			return h, ErrUsage("afterInsert hook " + override.AfterInsert.Kind.String() + " is not valid for this query type")
		}
		h.AfterInsert = override.AfterInsert
	}
	if hasUpdate {
		if !override.AfterUpdate.Kind.validForQueryType(qt) {
			return h, ErrUsage("afterUpdate hook " + override.AfterUpdate.Kind.String() + " is not valid for this query type")
		}
		h.AfterUpdate = override.AfterUpdate
	}
	if hasDelete {
		if !override.AfterDelete.Kind.validForQueryType(qt) {
			return h, ErrUsage("afterDelete hook " + override.AfterDelete.Kind.String() + " is not valid for this query type")
		}
		h.AfterDelete = override.AfterDelete
	}
	return h, nil
}

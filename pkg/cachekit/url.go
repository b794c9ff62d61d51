package cachekit

import (
	"strconv"
	"strings"
)

// idKey is the JSON field inspected to derive an object's identity segment
// when building its canonical URL under a folder.
const idKey = "id"

// urlKey is the fallback identity field when an object has no id.
const urlKey = "url"

// canonicalURL ensures url carries a trailing slash before any search
// string, per the canonical-URL convention used throughout the cache.
func canonicalURL(rawURL string) string {
	path, query := splitQuery(rawURL)
	if path == "" {
		return rawURL
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return joinQuery(path, query)
}

// splitQuery separates a URL into its path+host portion and its raw query
// string (without the leading "?").
func splitQuery(rawURL string) (path, query string) {
	if idx := strings.Index(rawURL, "?"); idx != -1 {
		return rawURL[:idx], rawURL[idx+1:]
	}
	return rawURL, ""
}

func joinQuery(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}

// folder returns the parent-collection URL of an object URL: everything up
// to and including the last "/" before the search string, with any "?query"
// stripped. folder("/items/123/") is "/items/".
func folder(objectURL string) string {
	path, _ := splitQuery(objectURL)
	idx := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
	if idx < 0 {
		return "/"
	}
	return path[:idx+1]
}

// objectURL builds the canonical URL for obj within folderURL: folder + id
// + "/" when both are present, else obj's own "url" field if it has one.
func objectURL(folderURL string, obj map[string]any) string {
	if id := objectID(obj); id != "" && folderURL != "" {
		base := folderURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base + id + "/"
	}
	if u, ok := obj[urlKey].(string); ok {
		return u
	}
	return folderURL
}

// objectID extracts a string form of obj's "id" field, accepting either a
// JSON string or a JSON number.
func objectID(obj map[string]any) string {
	if obj == nil {
		return ""
	}
	switch v := obj[idKey].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return ""
	}
}

// identityKey returns the value used to match obj for list membership:
// its id if present, else its url.
func identityKey(obj map[string]any) (string, bool) {
	if id := objectID(obj); id != "" {
		return "id:" + id, true
	}
	if u, ok := obj[urlKey].(string); ok && u != "" {
		return "url:" + u, true
	}
	return "", false
}

// attachPageNumber appends a "page=n" query parameter to url, unless n is 1
// (page 1 is the bare, unparameterized URL).
func attachPageNumber(rawURL string, n int) string {
	if n == 1 {
		return rawURL
	}
	path, query := splitQuery(rawURL)
	param := "page=" + strconv.Itoa(n)
	if query == "" {
		return path + "?" + param
	}
	return path + "?" + query + "&" + param
}

// matchURL reports whether a equals b, or a is a sub-path of b (b is a
// prefix of a, with a "/" boundary so "/api" does not match "/apikey").
func matchURL(a, b string) bool {
	if a == b {
		return true
	}
	if !strings.HasPrefix(a, b) {
		return false
	}
	if strings.HasSuffix(b, "/") {
		return true
	}
	return strings.HasPrefix(a[len(b):], "/")
}

// applyForceHTTPS rewrites an http:// URL to https:// when enabled. Any
// other scheme, or a relative URL with no scheme, passes through unchanged.
func applyForceHTTPS(rawURL string, enabled bool) string {
	if !enabled {
		return rawURL
	}
	if strings.HasPrefix(rawURL, "http://") {
		return "https://" + strings.TrimPrefix(rawURL, "http://")
	}
	return rawURL
}

// resolveAgainstBase joins a relative query URL against the client's
// configured base URL. An already-absolute url (containing a scheme) is
// returned unchanged.
func resolveAgainstBase(baseURL, ref string) string {
	if baseURL == "" || strings.Contains(ref, "://") {
		return ref
	}
	base := strings.TrimRight(baseURL, "/")
	if strings.HasPrefix(ref, "/") {
		return base + ref
	}
	return base + "/" + ref
}

package cachekit

import "net/http"

// isRejectStatus reports whether status marks a write as rejected for
// propagation purposes: the target object no longer exists, or existed but
// conflicts with the operation performed (404 not found, 409 conflict, 410
// gone). The propagation engine routes rejects differently from ordinary
// results — it marks matching queries expired rather than updating them.
func isRejectStatus(status int) bool {
	switch status {
	case http.StatusNotFound, http.StatusConflict, http.StatusGone:
		return true
	default:
		return false
	}
}

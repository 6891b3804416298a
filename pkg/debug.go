package cache

// debug.go exposes a small JSON diagnostic surface over Statistics for
// embedding in a host service's own mux, grounded on the teacher's
// debug-snapshot endpoint convention (GET /debug/<name>/snapshot returning a
// flat JSON object) but using the Statistics struct directly instead of a
// loosely-typed map, since this cache does not need to hide its shape from
// an external CLI the way the teacher's generic Cache[K,V] does.
//
// © 2025 taskcache authors. MIT License.

import (
	"encoding/json"
	"net/http"
)

// SnapshotHandler returns an http.Handler that serves the cache's current
// Statistics as JSON. It is meant to be registered at
// "/debug/taskcache/snapshot" on a host service's own mux.
func (c *Cache) SnapshotHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(c.Statistics())
	})
}

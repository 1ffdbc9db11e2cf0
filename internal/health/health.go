// Package health exposes the liveness endpoint.
package health

import "net/http"

// Liveness reports process liveness only. Upstream reachability is not part
// of it: the service keeps serving sessions when Redis or the layer API is
// down, just degraded.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

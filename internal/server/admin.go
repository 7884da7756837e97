package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gatelabs/tollgate/internal/cache"
)

// cacheMutation is the response body for flush and invalidation requests.
type cacheMutation struct {
	Deleted int64  `json:"deleted"`
	Pattern string `json:"pattern,omitempty"`
}

// handleCacheStats reports entry counts and store health. With caching
// disabled it answers the same shape with everything zeroed, so dashboards
// polling it keep working.
func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeJSON(w, http.StatusOK, cache.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats(r.Context()))
}

// handleCacheFlush deletes every cached response across all replicas.
func (s *server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeJSON(w, http.StatusOK, cacheMutation{})
		return
	}
	n, err := s.deps.Cache.Flush(r.Context())
	if err != nil {
		writeCacheError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cacheMutation{Deleted: n})
}

// handleCacheInvalidate deletes cached responses whose key matches the glob
// pattern from the URL.
func (s *server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := chi.URLParam(r, "pattern")
	if s.deps.Cache == nil {
		writeJSON(w, http.StatusOK, cacheMutation{Pattern: pattern})
		return
	}
	n, err := s.deps.Cache.Invalidate(r.Context(), pattern)
	if err != nil {
		writeCacheError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cacheMutation{Deleted: n, Pattern: pattern})
}

// writeCacheError logs the full error server-side and returns a sanitized
// message to the client.
func writeCacheError(w http.ResponseWriter, r *http.Request, err error) {
	slog.LogAttrs(r.Context(), slog.LevelError, "cache admin error",
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusServiceUnavailable, detail{Detail: "Cache store unavailable"})
}

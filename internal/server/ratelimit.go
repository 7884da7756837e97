package server

import (
	"net/http"
	"strconv"

	tollgate "github.com/gatelabs/tollgate/internal"
)

// rateLimit consumes one token from the caller's shared bucket and rejects
// with 429 when it is empty. The three X-RateLimit headers are set on both
// admitted and rejected responses; the header keys are assigned directly to
// preserve their exact casing on the wire.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil || bypassPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		res := s.deps.Limiter.Allow(r.Context(), tollgate.ClientIdentity(r))

		h := w.Header()
		h["X-RateLimit-Limit"] = []string{strconv.Itoa(res.Limit)}
		h["X-RateLimit-Remaining"] = []string{strconv.Itoa(res.Remaining)}
		h["X-RateLimit-Reset"] = []string{strconv.FormatInt(res.Reset, 10)}

		if res.Limited {
			if s.deps.Metrics != nil {
				s.deps.Metrics.RateLimitRejects.Inc()
			}
			writeJSON(w, http.StatusTooManyRequests, detail{Detail: "Too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

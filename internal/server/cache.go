package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	tollgate "github.com/gatelabs/tollgate/internal"
	"github.com/gatelabs/tollgate/internal/cache"
)

// caching serves stored responses on the inbound path and stores eligible
// responses on the outbound path. Hits short-circuit before the rate limiter
// and authenticator run. Non-hit responses are buffered in full so that body,
// status, and headers can be stored and the timing header injected before
// anything reaches the client. Every response is marked: DISABLED when no
// cache is configured, otherwise HIT or MISS. Bypass paths skip lookup and
// store but still carry the marker.
func (s *server) caching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Cache == nil {
			w.Header()["X-Cache"] = []string{"DISABLED"}
			next.ServeHTTP(w, r)
			return
		}

		bypass := bypassPath(r.URL.Path)

		var key string
		if !bypass {
			key = cache.Key(r.Method, r.URL.Path, r.URL.RawQuery, cacheIdentity(r))

			if r.Method == http.MethodGet && r.Header.Get("Cache-Control") != "no-cache" {
				if e, ok := s.deps.Cache.Lookup(r.Context(), key); ok {
					if s.deps.Metrics != nil {
						s.deps.Metrics.CacheHits.Inc()
					}
					s.serveHit(w, e)
					return
				}
				if s.deps.Metrics != nil {
					s.deps.Metrics.CacheMisses.Inc()
				}
			}
		}

		start := time.Now()
		rec := newRecorder()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start).Seconds()

		// Store before marking so the entry holds only origin headers; a later
		// hit must not replay this request's timing. Writes are skipped once
		// the client is gone, and the token the limiter consumed for this
		// request is not refunded.
		if !bypass && r.Method == http.MethodGet && storableResponse(rec.status, rec.header) && r.Context().Err() == nil {
			s.deps.Cache.Store(r.Context(), key, rec.entry())
		}

		rec.header["X-Cache"] = []string{"MISS"}
		rec.header["X-Process-Time"] = []string{strconv.FormatFloat(elapsed, 'f', 4, 64)}
		rec.replay(w)
	})
}

// serveHit replays a stored entry. Stored header casing is preserved via
// direct map assignment; the two cache headers mark the response as served
// from the shared store.
func (s *server) serveHit(w http.ResponseWriter, e cache.Entry) {
	h := w.Header()
	for k, v := range e.Headers {
		h[k] = []string{v}
	}
	h["X-Cache"] = []string{"HIT"}
	h["X-Cache-TTL"] = []string{strconv.Itoa(int(s.deps.Cache.TTL().Seconds()))}
	w.WriteHeader(e.StatusCode)
	w.Write([]byte(e.Content))
}

// cacheIdentity scopes fingerprints to the caller. The cache runs before
// authentication, so live traffic fingerprints as anonymous; the claims
// branch covers handlers invoked with claims already attached.
func cacheIdentity(r *http.Request) string {
	claims := tollgate.ClaimsFromContext(r.Context())
	if claims == nil {
		return "anonymous"
	}
	if sub := claims.Subject(); sub != "" {
		return "user:" + sub
	}
	return "user:anonymous"
}

// storableResponse reports whether a buffered response may be written to the
// shared cache.
func storableResponse(status int, h http.Header) bool {
	if status < 200 || status >= 300 {
		return false
	}
	cc := strings.ToLower(h.Get("Cache-Control"))
	return !strings.Contains(cc, "no-cache") && !strings.Contains(cc, "no-store")
}

// responseRecorder buffers the inner handlers' response so the cache layer
// can inspect, store, and replay it. It does not implement http.Flusher:
// everything below the cache is buffered, per-read flushing only applies on
// the disabled write-through path.
type responseRecorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (rr *responseRecorder) Header() http.Header { return rr.header }

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.status = code
		rr.wroteHeader = true
	}
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.wroteHeader = true
	}
	return rr.body.Write(b)
}

// entry flattens the buffered response into its stored form. Multi-valued
// headers keep their first value, mirroring the single-valued entry format.
func (rr *responseRecorder) entry() cache.Entry {
	headers := make(map[string]string, len(rr.header))
	for k, vals := range rr.header {
		if len(vals) > 0 {
			headers[k] = vals[0]
		}
	}
	return cache.Entry{
		Content:    rr.body.String(),
		StatusCode: rr.status,
		Headers:    headers,
	}
}

// replay copies the buffered response onto the real writer.
func (rr *responseRecorder) replay(w http.ResponseWriter) {
	h := w.Header()
	for k, vals := range rr.header {
		h[k] = vals
	}
	w.WriteHeader(rr.status)
	w.Write(rr.body.Bytes())
}

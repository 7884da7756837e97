// Package server implements the HTTP transport layer for the Tollgate gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	tollgate "github.com/gatelabs/tollgate/internal"
	"github.com/gatelabs/tollgate/internal/cache"
	"github.com/gatelabs/tollgate/internal/ratelimit"
	"github.com/gatelabs/tollgate/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           tollgate.Authenticator
	Origin         http.Handler         // terminal handler for proxied routes
	Limiter        *ratelimit.Limiter   // nil = no rate limiting
	Cache          *cache.ResponseCache // nil = caching disabled
	Metrics        *telemetry.Metrics   // nil = no metrics collection
	MetricsHandler http.Handler         // nil = no /metrics endpoint
	ReadyCheck     ReadyChecker         // nil = always ready (for tests)
}

// proxyMethods are the verbs forwarded to the origin.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// New creates an http.Handler with all routes and middleware wired. Order is
// load-bearing: cache hits short-circuit before the limiter runs, limiter
// rejections come before authentication, and every response passes back out
// through logging.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware, outermost first.
	r.Use(s.recovery)
	r.Use(s.requestID)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(telemetry.TraceMiddleware)
	r.Use(s.logging)
	r.Use(s.caching)
	r.Use(s.rateLimit)
	r.Use(s.authenticate)

	// System endpoints (bypass caching, limiting, and auth).
	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Admin endpoints: authenticated and rate-limited like any proxied route.
	r.Get("/admin/cache/stats", s.handleCacheStats)
	r.Delete("/admin/cache", s.handleCacheFlush)
	r.Delete("/admin/cache/{pattern}", s.handleCacheInvalidate)

	// Everything else forwards to the origin.
	for _, m := range proxyMethods {
		r.Method(m, "/*", deps.Origin)
	}

	return r
}

type server struct {
	deps Deps
}

// bypassPaths skip caching, rate limiting, and authentication. Logging and
// metrics still observe them.
var bypassPaths = map[string]struct{}{
	"/health":  {},
	"/readyz":  {},
	"/metrics": {},
}

func bypassPath(p string) bool {
	_, ok := bypassPaths[p]
	return ok
}

// Package telemetry provides observability primitives for the Tollgate gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	OriginDuration   *prometheus.HistogramVec
	OriginErrors     *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheKeys        prometheus.Gauge
	RateLimitRejects prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "tollgate",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tollgate",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		OriginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "tollgate",
			Name:                            "origin_request_duration_seconds",
			Help:                            "Origin call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method"}),

		OriginErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "origin_errors_total",
			Help:      "Total origin transport failures.",
		}, []string{"reason"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		CacheKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tollgate",
			Name:      "cache_keys",
			Help:      "Number of live entries in the shared response cache.",
		}),

		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "rate_limit_rejects_total",
			Help:      "Total rate limit rejections.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.OriginDuration,
		m.OriginErrors,
		m.CacheHits,
		m.CacheMisses,
		m.CacheKeys,
		m.RateLimitRejects,
	)

	return m
}

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const cacheKeySampleInterval = 30 * time.Second

// KeyCounter reports the number of live entries in the response cache.
type KeyCounter interface {
	KeyCount(ctx context.Context) (int, error)
}

// CacheKeySampler periodically samples the response cache key count into a
// Prometheus gauge.
type CacheKeySampler struct {
	cache KeyCounter
	gauge prometheus.Gauge
}

// NewCacheKeySampler creates a CacheKeySampler.
func NewCacheKeySampler(cache KeyCounter, gauge prometheus.Gauge) *CacheKeySampler {
	return &CacheKeySampler{cache: cache, gauge: gauge}
}

// Name returns the worker identifier.
func (w *CacheKeySampler) Name() string { return "cache_keys" }

// Run samples once immediately, then on every tick until ctx is cancelled.
func (w *CacheKeySampler) Run(ctx context.Context) error {
	w.sample(ctx)

	ticker := time.NewTicker(cacheKeySampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sample(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *CacheKeySampler) sample(ctx context.Context) {
	n, err := w.cache.KeyCount(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "cache key sample failed",
			slog.String("error", err.Error()),
		)
		return
	}
	w.gauge.Set(float64(n))
}

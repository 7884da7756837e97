package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/gatelabs/tollgate/internal/auth"
	"github.com/gatelabs/tollgate/internal/cache"
	"github.com/gatelabs/tollgate/internal/config"
	"github.com/gatelabs/tollgate/internal/kv"
	"github.com/gatelabs/tollgate/internal/origin"
	"github.com/gatelabs/tollgate/internal/ratelimit"
	"github.com/gatelabs/tollgate/internal/server"
	"github.com/gatelabs/tollgate/internal/telemetry"
	"github.com/gatelabs/tollgate/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(buildLogger(cfg.LogLevel))
	slog.Info("starting tollgate", "version", version, "addr", cfg.ServerAddr)

	// Shared KV store. The limiter fails open and the cache degrades to
	// pass-through when it is down, so an unreachable store at boot is
	// logged rather than fatal.
	store := kv.NewStore(kv.Config{
		Addr:     cfg.Redis.Addr(),
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	defer store.Close()

	ctx := context.Background()
	if err := store.Connect(ctx); err != nil {
		slog.Warn("kv store unreachable at startup", "error", err)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	// Tracing
	if cfg.Tracing.OTLPEndpoint != "" {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	// Bearer-token validation
	authn, err := auth.New(auth.Config{
		Secret:    cfg.JWT.Secret,
		Algorithm: cfg.JWT.Algorithm,
		Audience:  cfg.JWT.Audience,
		Issuer:    cfg.JWT.Issuer,
	})
	if err != nil {
		return err
	}

	// Origin forwarder with cached DNS
	resolver := &dnscache.Resolver{}
	go refreshDNS(resolver)

	fwd, err := origin.New(origin.Config{BaseURL: cfg.DownstreamURL}, resolver, metrics)
	if err != nil {
		return err
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(store, ratelimit.Config{
			MaxTokens:     cfg.RateLimit.PerMinute,
			WindowSeconds: cfg.RateLimit.WindowSeconds,
		})
	}

	var respCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		respCache = cache.New(store, cfg.Cache.TTL())
	}

	handler := server.New(server.Deps{
		Auth:           authn,
		Origin:         fwd,
		Limiter:        limiter,
		Cache:          respCache,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadyCheck:     store.Ping,
	})

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if respCache != nil {
		runner := worker.NewRunner(worker.NewCacheKeySampler(respCache, metrics.CacheKeys))
		go func() {
			if err := runner.Run(workerCtx); err != nil {
				slog.Error("worker runner stopped", "error", err)
			}
		}()
	}

	// ReadHeaderTimeout only: response write timeouts would cut off
	// long-lived streaming responses from the origin.
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("tollgate ready", "addr", cfg.ServerAddr, "origin", cfg.DownstreamURL)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("tollgate stopped")
	return nil
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}

// refreshDNS re-resolves cached entries so origin DNS changes are picked up.
func refreshDNS(r *dnscache.Resolver) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for range t.C {
		r.Refresh(true)
	}
}

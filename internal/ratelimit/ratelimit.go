// Package ratelimit implements the distributed token-bucket limiter shared by
// all gateway replicas through the KV store. Buckets refill continuously and
// are mutated only under an optimistic transaction, so concurrent requests
// from the same client serialize on the bucket record rather than on a lock.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces bucket records in the shared store.
const keyPrefix = "rate_limit:"

// maxRetries bounds optimistic-transaction retries before failing open.
const maxRetries = 3

// Store is the slice of the KV client the limiter needs.
type Store interface {
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

// Config parameterizes the bucket.
type Config struct {
	// MaxTokens is the bucket capacity. Zero denies every request.
	MaxTokens int

	// WindowSeconds sets the refill rate: MaxTokens / WindowSeconds per second.
	WindowSeconds int
}

// Result is the outcome of an admission check.
type Result struct {
	Limited   bool
	Limit     int
	Remaining int   // whole tokens left after the decrement
	Reset     int64 // unix second at which a token is guaranteed available
}

// Limiter admits or rejects requests per client identity. It fails open:
// store errors and conflict exhaustion admit the request, preferring
// availability over strict enforcement.
type Limiter struct {
	store  Store
	max    float64
	rate   float64 // tokens per second
	window time.Duration

	now func() time.Time // stubbed in tests
}

// New creates a limiter over the shared store.
func New(store Store, cfg Config) *Limiter {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	return &Limiter{
		store:  store,
		max:    float64(cfg.MaxTokens),
		rate:   float64(cfg.MaxTokens) / window.Seconds(),
		window: window,
		now:    time.Now,
	}
}

// Allow consumes one token from clientID's bucket and reports the outcome.
// The bucket record is read and written under a watch on its key; a conflicting
// writer aborts the commit and the whole step is retried with a fresh read.
func (l *Limiter) Allow(ctx context.Context, clientID string) Result {
	key := keyPrefix + clientID

	var res Result
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := l.store.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			now := unixSeconds(l.now())
			var write float64
			res, write = l.decide(fields, now)
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.HSet(ctx, key,
					"tokens", formatFloat(write),
					"last_refill", formatFloat(now),
				)
				p.Expire(ctx, key, 3*l.window)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return res
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "rate limit fail-open",
			slog.String("client", clientID),
			slog.String("error", err.Error()),
		)
		return l.failOpen()
	}

	slog.LogAttrs(ctx, slog.LevelWarn, "rate limit fail-open",
		slog.String("client", clientID),
		slog.String("error", "optimistic transaction retries exhausted"),
		slog.Int("attempts", maxRetries+1),
	)
	return l.failOpen()
}

// decide applies the refill-and-consume step to the stored fields at time now,
// returning the outcome and the token count to write back. The written count
// never leaves [0, max]: refill is clamped at capacity, a negative elapsed
// (clock skew between replicas) refills nothing, and only buckets holding a
// whole token are decremented.
func (l *Limiter) decide(fields map[string]string, now float64) (Result, float64) {
	tokens := l.max
	if len(fields) > 0 {
		stored, err1 := strconv.ParseFloat(fields["tokens"], 64)
		last, err2 := strconv.ParseFloat(fields["last_refill"], 64)
		if err1 == nil && err2 == nil {
			tokens = stored
			if elapsed := now - last; elapsed > 0 {
				tokens = min(l.max, tokens+elapsed*l.rate)
			}
		}
	}

	res := Result{Limit: int(l.max), Reset: l.resetAt(now)}
	if tokens < 1 {
		res.Limited = true
		return res, tokens
	}
	tokens--
	res.Remaining = int(tokens)
	return res, tokens
}

// resetAt returns the first whole second at which a token is guaranteed
// available. With a zero refill rate the window length stands in for the
// per-token interval.
func (l *Limiter) resetAt(now float64) int64 {
	perToken := l.window.Seconds()
	if l.rate > 0 {
		perToken = 1 / l.rate
	}
	return int64(now+perToken) + 1
}

func (l *Limiter) failOpen() Result {
	return Result{
		Limit:     int(l.max),
		Remaining: int(l.max),
		Reset:     l.resetAt(unixSeconds(l.now())),
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

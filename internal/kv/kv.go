// Package kv wraps the shared key-value store used by the rate limiter and
// the response cache. One Store handle is created at startup and shared by
// every component; the underlying connection is established on first use.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Timeouts applied to every store operation.
const (
	dialTimeout  = 5 * time.Second
	readTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
)

// Config holds connection settings for the store.
type Config struct {
	Addr     string
	DB       int
	Password string
}

// Store is the shared handle to the KV store. The first operation dials and
// verifies the connection with a PING; on probe failure the error surfaces to
// the caller (the limiter fails open, the cache treats it as a miss) and the
// next operation dials again. Close drops the handle so a later operation
// reconnects, which keeps tests and shutdown deterministic.
type Store struct {
	cfg Config

	mu sync.Mutex
	c  *redis.Client
}

// NewStore returns an unconnected store handle.
func NewStore(cfg Config) *Store { return &Store{cfg: cfg} }

// client returns the connected client, dialing and probing on first use.
func (s *Store) client(ctx context.Context) (*redis.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return s.c, nil
	}

	c := redis.NewClient(&redis.Options{
		Addr:         s.cfg.Addr,
		DB:           s.cfg.DB,
		Password:     s.cfg.Password,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		slog.LogAttrs(ctx, slog.LevelWarn, "kv probe failed",
			slog.String("addr", s.cfg.Addr),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("kv: connect %s: %w", s.cfg.Addr, err)
	}

	s.c = c
	return c, nil
}

// Connect eagerly establishes the connection, retrying the probe on a
// fibonacci backoff. Used at startup so a store that is still coming up does
// not cost the first requests their fail-open path.
func (s *Store) Connect(ctx context.Context) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := s.client(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Get returns the string value at key. ok is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (val string, ok bool, err error) {
	c, err := s.client(ctx)
	if err != nil {
		return "", false, err
	}
	val, err = c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetEx stores val at key with the given TTL, overwriting any previous value.
func (s *Store) SetEx(ctx context.Context, key, val string, ttl time.Duration) error {
	c, err := s.client(ctx)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, val, ttl).Err()
}

// Del removes the given keys and returns how many existed.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	c, err := s.client(ctx)
	if err != nil {
		return 0, err
	}
	return c.Del(ctx, keys...).Result()
}

// Keys returns all keys matching the glob pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	c, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.Keys(ctx, pattern).Result()
}

// HGetAll returns every field of the hash at key. Absent keys yield an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	c, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.HGetAll(ctx, key).Result()
}

// Watch runs fn under an optimistic transaction on the given keys. fn receives
// the transaction handle; the commit fails with redis.TxFailedErr when a
// watched key changed between the read and the exec.
func (s *Store) Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	c, err := s.client(ctx)
	if err != nil {
		return err
	}
	return c.Watch(ctx, fn, keys...)
}

// Ping probes the store.
func (s *Store) Ping(ctx context.Context) error {
	c, err := s.client(ctx)
	if err != nil {
		return err
	}
	return c.Ping(ctx).Err()
}

// ServerInfo is the subset of the store's INFO output surfaced by cache stats.
type ServerInfo struct {
	MemoryHuman   string
	UptimeSeconds int64
}

// ServerInfo fetches and parses the store's INFO output.
func (s *Store) ServerInfo(ctx context.Context) (ServerInfo, error) {
	c, err := s.client(ctx)
	if err != nil {
		return ServerInfo{}, err
	}
	raw, err := c.Info(ctx).Result()
	if err != nil {
		return ServerInfo{}, err
	}
	return parseInfo(raw), nil
}

func parseInfo(raw string) ServerInfo {
	var info ServerInfo
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if v, ok := strings.CutPrefix(line, "used_memory_human:"); ok {
			info.MemoryHuman = v
		} else if v, ok := strings.CutPrefix(line, "uptime_in_seconds:"); ok {
			info.UptimeSeconds, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	return info
}

// Close tears down the connection and clears the handle. Safe to call on an
// unconnected store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	err := s.c.Close()
	s.c = nil
	return err
}

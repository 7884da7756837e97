// Package cache implements the shared response cache. Entries live in the KV
// store under fingerprinted keys, so every gateway replica serves hits for
// responses any replica stored. Store failures degrade to misses; the cache
// never takes a request down with it.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gatelabs/tollgate/internal/kv"
)

// keyPrefix namespaces cache records in the shared store.
const keyPrefix = "cache:"

// Store is the slice of the KV client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEx(ctx context.Context, key, val string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	ServerInfo(ctx context.Context) (kv.ServerInfo, error)
}

// Entry is the stored form of an origin response. The field names are part of
// the record format shared by all replicas writing to the same store.
type Entry struct {
	Content    string            `json:"content"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	CachedAt   float64           `json:"cached_at"`
}

// Stats reports cache configuration plus backing-store health.
type Stats struct {
	Enabled       bool   `json:"cache_enabled"`
	TTLSeconds    int    `json:"cache_ttl"`
	TotalKeys     int    `json:"total_cache_keys"`
	Connected     bool   `json:"store_connected"`
	MemoryHuman   string `json:"store_memory_human"`
	UptimeSeconds int64  `json:"store_uptime_seconds"`
	Error         string `json:"error,omitempty"`
}

// gatewayHeaders are injected per response and must never be replayed from a
// stored entry.
var gatewayHeaders = []string{"X-Cache", "X-Cache-TTL", "X-Process-Time"}

// Key fingerprints a request for cache storage. The identity component keeps
// per-user variants of the same URL separate.
func Key(method, path, rawQuery, identity string) string {
	sum := md5.Sum([]byte(method + "|" + path + "|" + rawQuery + "|" + identity))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// ResponseCache reads and writes entries with a fixed TTL. A nil ResponseCache
// is never constructed; the middleware layer handles the disabled case.
type ResponseCache struct {
	store Store
	ttl   time.Duration

	now func() time.Time // stubbed in tests
}

// New creates a cache over the shared store with the given entry TTL.
func New(store Store, ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: store, ttl: ttl, now: time.Now}
}

// TTL is the lifetime applied to every entry at write time.
func (c *ResponseCache) TTL() time.Duration { return c.ttl }

// Lookup fetches the entry under key. Store errors and undecodable entries
// count as misses.
func (c *ResponseCache) Lookup(ctx context.Context, key string) (Entry, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "cache lookup failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "cache entry corrupt",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return Entry{}, false
	}
	// A replayed hit must not carry instrumentation from the writing request.
	e.Headers = stripGatewayHeaders(e.Headers)
	return e, true
}

// Store writes the entry under key, stamping it with the current time and the
// configured TTL. A later write for the same key overwrites. Failures are
// logged and swallowed; the response has already been served.
func (c *ResponseCache) Store(ctx context.Context, key string, e Entry) {
	e.Headers = stripGatewayHeaders(e.Headers)
	e.CachedAt = float64(c.now().UnixNano()) / 1e9
	raw, err := json.Marshal(e)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "cache entry encode failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := c.store.SetEx(ctx, key, string(raw), c.ttl); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "cache store failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Stats gathers key counts and store health. A store failure yields the same
// shape with Connected false and the error recorded, so the admin endpoint
// stays serviceable while the store is down.
func (c *ResponseCache) Stats(ctx context.Context) Stats {
	s := Stats{Enabled: true, TTLSeconds: int(c.ttl.Seconds())}

	n, err := c.KeyCount(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.TotalKeys = n

	info, err := c.store.ServerInfo(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Connected = true
	s.MemoryHuman = info.MemoryHuman
	s.UptimeSeconds = info.UptimeSeconds
	return s
}

// KeyCount counts live cache records.
func (c *ResponseCache) KeyCount(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("cache: list keys: %w", err)
	}
	return len(keys), nil
}

// Flush deletes every cache record and returns the count removed.
func (c *ResponseCache) Flush(ctx context.Context) (int64, error) {
	return c.deleteMatching(ctx, keyPrefix+"*")
}

// Invalidate deletes records whose key matches cache:{pattern} under the
// store's glob semantics and returns the count removed. Keys are fingerprint
// digests, so patterns other than wildcards rarely match more than one.
func (c *ResponseCache) Invalidate(ctx context.Context, pattern string) (int64, error) {
	return c.deleteMatching(ctx, keyPrefix+pattern)
}

func (c *ResponseCache) deleteMatching(ctx context.Context, pattern string) (int64, error) {
	keys, err := c.store.Keys(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("cache: list %s: %w", pattern, err)
	}
	n, err := c.store.Del(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("cache: delete: %w", err)
	}
	return n, nil
}

func stripGatewayHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if isGatewayHeader(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func isGatewayHeader(name string) bool {
	for _, g := range gatewayHeaders {
		if strings.EqualFold(name, g) {
			return true
		}
	}
	return false
}

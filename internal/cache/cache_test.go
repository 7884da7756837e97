package cache

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/gatelabs/tollgate/internal/kv"
)

func newTestCache(t *testing.T, ttl time.Duration) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewStore(kv.Config{Addr: mr.Addr()})
	t.Cleanup(func() { store.Close() })
	return New(store, ttl), mr
}

func TestKey(t *testing.T) {
	t.Parallel()
	base := Key("GET", "/api/users", "page=1", "anonymous")

	if !strings.HasPrefix(base, "cache:") {
		t.Errorf("key %q should carry the cache: prefix", base)
	}
	if got, want := len(base), len("cache:")+32; got != want {
		t.Errorf("key length = %d, want %d (hex digest)", got, want)
	}
	if again := Key("GET", "/api/users", "page=1", "anonymous"); again != base {
		t.Error("identical requests should fingerprint identically")
	}

	variants := []string{
		Key("POST", "/api/users", "page=1", "anonymous"),
		Key("GET", "/api/orders", "page=1", "anonymous"),
		Key("GET", "/api/users", "page=2", "anonymous"),
		Key("GET", "/api/users", "page=1", "user:alice"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d should fingerprint differently", i)
		}
	}
}

func TestLookupAbsent(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, time.Minute)

	if _, ok := c.Lookup(context.Background(), Key("GET", "/x", "", "anonymous")); ok {
		t.Error("should not find an entry that was never stored")
	}
}

func TestStoreLookupRoundtrip(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, time.Minute)
	at := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return at }

	key := Key("GET", "/api/users", "", "anonymous")
	c.Store(context.Background(), key, Entry{
		Content:    `{"users":[]}`,
		StatusCode: 200,
		Headers: map[string]string{
			"Content-Type":   "application/json",
			"X-Cache":        "MISS",
			"x-process-time": "0.0123",
		},
	})

	e, ok := c.Lookup(context.Background(), key)
	if !ok {
		t.Fatal("should find the stored entry")
	}
	if e.Content != `{"users":[]}` || e.StatusCode != 200 {
		t.Errorf("entry = %+v, want stored content and status", e)
	}
	if e.Headers["Content-Type"] != "application/json" {
		t.Error("origin headers should survive the roundtrip")
	}
	for name := range e.Headers {
		if isGatewayHeader(name) {
			t.Errorf("gateway header %q should have been stripped", name)
		}
	}
	if e.CachedAt != 1_700_000_000 {
		t.Errorf("CachedAt = %v, want write-time stamp", e.CachedAt)
	}
}

func TestLookupStripsStoredGatewayHeaders(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t, time.Minute)

	// An entry written before the strip rule, planted directly in the store.
	key := Key("GET", "/legacy", "", "anonymous")
	mr.Set(key, `{"content":"ok","status_code":200,"headers":{"X-CACHE":"HIT","Etag":"abc"},"cached_at":1}`)

	e, ok := c.Lookup(context.Background(), key)
	if !ok {
		t.Fatal("should decode the planted entry")
	}
	if _, found := e.Headers["X-CACHE"]; found {
		t.Error("stored X-Cache variant should be stripped on read")
	}
	if e.Headers["Etag"] != "abc" {
		t.Error("non-gateway headers should survive")
	}
}

func TestStoreOverwrite(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, time.Minute)

	key := Key("GET", "/api/users", "", "anonymous")
	c.Store(context.Background(), key, Entry{Content: "first", StatusCode: 200})
	c.Store(context.Background(), key, Entry{Content: "second", StatusCode: 201})

	e, ok := c.Lookup(context.Background(), key)
	if !ok || e.Content != "second" || e.StatusCode != 201 {
		t.Errorf("entry = %+v, want the later write", e)
	}
}

func TestLookupAfterExpiry(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t, 30*time.Second)

	key := Key("GET", "/api/users", "", "anonymous")
	c.Store(context.Background(), key, Entry{Content: "ok", StatusCode: 200})

	if got, want := mr.TTL(key), 30*time.Second; got != want {
		t.Errorf("TTL = %v, want %v", got, want)
	}

	mr.FastForward(31 * time.Second)
	if _, ok := c.Lookup(context.Background(), key); ok {
		t.Error("entry should be gone after the TTL")
	}
}

func TestLookupCorruptEntry(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t, time.Minute)

	key := Key("GET", "/broken", "", "anonymous")
	mr.Set(key, "not json at all")

	if _, ok := c.Lookup(context.Background(), key); ok {
		t.Error("undecodable entry should count as a miss")
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	for _, p := range []string{"/a", "/b", "/c"} {
		c.Store(ctx, Key("GET", p, "", "anonymous"), Entry{Content: "x", StatusCode: 200})
	}
	mr.Set("rate_limit:user:alice", "untouched")

	n, err := c.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	if count, _ := c.KeyCount(ctx); count != 0 {
		t.Errorf("KeyCount = %d, want 0 after flush", count)
	}
	if !mr.Exists("rate_limit:user:alice") {
		t.Error("flush should only touch cache records")
	}
}

func TestInvalidatePattern(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	keep := Key("GET", "/keep", "", "anonymous")
	drop := Key("GET", "/drop", "", "anonymous")
	c.Store(ctx, keep, Entry{Content: "keep", StatusCode: 200})
	c.Store(ctx, drop, Entry{Content: "drop", StatusCode: 200})

	n, err := c.Invalidate(ctx, strings.TrimPrefix(drop, "cache:"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, ok := c.Lookup(ctx, keep); !ok {
		t.Error("non-matching entry should survive")
	}
	if _, ok := c.Lookup(ctx, drop); ok {
		t.Error("matching entry should be gone")
	}

	n, err = c.Invalidate(ctx, "*")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("wildcard deleted = %d, want the remaining 1", n)
	}
}

// stubStore answers from a map and reports fixed server info, for exercising
// Stats without a live store.
type stubStore struct {
	data map[string]string
	info kv.ServerInfo
}

func (s *stubStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *stubStore) SetEx(_ context.Context, key, val string, _ time.Duration) error {
	s.data[key] = val
	return nil
}

func (s *stubStore) Del(_ context.Context, keys ...string) (int64, error) {
	var n int64
	for _, k := range keys {
		if _, ok := s.data[k]; ok {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *stubStore) Keys(_ context.Context, pattern string) ([]string, error) {
	var out []string
	for k := range s.data {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *stubStore) ServerInfo(_ context.Context) (kv.ServerInfo, error) {
	return s.info, nil
}

func TestStats(t *testing.T) {
	t.Parallel()
	store := &stubStore{
		data: map[string]string{
			Key("GET", "/a", "", "anonymous"): "{}",
			Key("GET", "/b", "", "anonymous"): "{}",
			"rate_limit:user:alice":           "not counted",
		},
		info: kv.ServerInfo{MemoryHuman: "1.04M", UptimeSeconds: 3600},
	}
	c := New(store, 5*time.Minute)

	s := c.Stats(context.Background())
	if !s.Enabled || !s.Connected {
		t.Errorf("stats = %+v, want enabled and connected", s)
	}
	if s.TTLSeconds != 300 {
		t.Errorf("TTLSeconds = %d, want 300", s.TTLSeconds)
	}
	if s.TotalKeys != 2 {
		t.Errorf("TotalKeys = %d, want 2", s.TotalKeys)
	}
	if s.MemoryHuman != "1.04M" || s.UptimeSeconds != 3600 {
		t.Errorf("server info = %q/%d, want passthrough", s.MemoryHuman, s.UptimeSeconds)
	}
	if s.Error != "" {
		t.Errorf("Error = %q, want empty", s.Error)
	}
}

// failStore errors on every operation.
type failStore struct{ err error }

func (f *failStore) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f *failStore) SetEx(context.Context, string, string, time.Duration) error {
	return f.err
}
func (f *failStore) Del(context.Context, ...string) (int64, error)  { return 0, f.err }
func (f *failStore) Keys(context.Context, string) ([]string, error) { return nil, f.err }
func (f *failStore) ServerInfo(context.Context) (kv.ServerInfo, error) {
	return kv.ServerInfo{}, f.err
}

func TestDegradedStore(t *testing.T) {
	t.Parallel()
	c := New(&failStore{err: errors.New("store down")}, time.Minute)
	ctx := context.Background()

	if _, ok := c.Lookup(ctx, "cache:whatever"); ok {
		t.Error("lookup against a failing store should miss")
	}
	c.Store(ctx, "cache:whatever", Entry{Content: "x", StatusCode: 200}) // must not panic

	s := c.Stats(ctx)
	if s.Connected {
		t.Error("stats should report disconnected")
	}
	if s.Error == "" {
		t.Error("stats should carry the store error")
	}
	if !s.Enabled {
		t.Error("stats should still report the cache as enabled")
	}

	if _, err := c.Flush(ctx); err == nil {
		t.Error("flush should surface the store error")
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeStore is an in-memory CacheStore with call counters
type fakeStore struct {
	entries  map[string]fakeStoreEntry
	getCalls int
	setCalls int
	failAll  bool
}

type fakeStoreEntry struct {
	data      []byte
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]fakeStoreEntry)}
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	s.getCalls++
	if s.failAll {
		return nil, time.Time{}, errors.New("store unavailable")
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, time.Time{}, ErrCacheMiss
	}
	return e.data, e.expiresAt, nil
}

func (s *fakeStore) Set(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	s.setCalls++
	if s.failAll {
		return errors.New("store unavailable")
	}
	s.entries[key] = fakeStoreEntry{data: data, expiresAt: expiresAt}
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	delete(s.entries, key)
	return nil
}

func (s *fakeStore) Clear(ctx context.Context) error {
	s.entries = make(map[string]fakeStoreEntry)
	return nil
}

func (s *fakeStore) DeleteExpired(ctx context.Context) (int64, error) {
	var removed int64
	now := time.Now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

func TestTieredCacheSetGet(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := NewTieredCache(store)

	if err := cache.Set(ctx, "k", "hello", CacheOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got string
	if err := cache.Get(ctx, "k", &got, CacheOptions{}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q; want %q", got, "hello")
	}
	// memory tier should have absorbed the read
	if store.getCalls != 0 {
		t.Errorf("store.getCalls = %d; want 0", store.getCalls)
	}
	if store.setCalls != 1 {
		t.Errorf("store.setCalls = %d; want 1", store.setCalls)
	}
}

func TestTieredCacheMiss(t *testing.T) {
	ctx := context.Background()
	cache := NewTieredCache(newFakeStore())

	var got string
	if err := cache.Get(ctx, "absent", &got, CacheOptions{}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get = %v; want ErrCacheMiss", err)
	}
}

func TestTieredCacheExpiry(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := NewTieredCache(store)

	if err := cache.Set(ctx, "k", 42, CacheOptions{TTL: -time.Second}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got int
	if err := cache.Get(ctx, "k", &got, CacheOptions{}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get after expiry = %v; want ErrCacheMiss", err)
	}
}

func TestTieredCacheForceRefresh(t *testing.T) {
	ctx := context.Background()
	cache := NewTieredCache(newFakeStore())

	if err := cache.Set(ctx, "k", "fresh", CacheOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got string
	err := cache.Get(ctx, "k", &got, CacheOptions{ForceRefresh: true})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get with ForceRefresh = %v; want ErrCacheMiss", err)
	}
}

func TestTieredCacheMemoryOnly(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := NewTieredCache(store)

	if err := cache.Set(ctx, "k", "v", CacheOptions{TTL: time.Minute, MemoryOnly: true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if store.setCalls != 0 {
		t.Errorf("store.setCalls = %d; want 0 for MemoryOnly set", store.setCalls)
	}

	// a second cache instance sharing the store must not see the value
	other := NewTieredCache(store)
	var got string
	if err := other.Get(ctx, "k", &got, CacheOptions{}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get from sibling cache = %v; want ErrCacheMiss", err)
	}
}

func TestTieredCachePromotesStoreHit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	writer := NewTieredCache(store)
	if err := writer.Set(ctx, "shared", "payload", CacheOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// fresh instance with a cold memory tier
	reader := NewTieredCache(store)

	var got string
	if err := reader.Get(ctx, "shared", &got, CacheOptions{}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "payload" {
		t.Errorf("got %q; want %q", got, "payload")
	}
	if store.getCalls != 1 {
		t.Fatalf("store.getCalls = %d; want 1", store.getCalls)
	}

	// second read must come from the promoted memory entry
	if err := reader.Get(ctx, "shared", &got, CacheOptions{}); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if store.getCalls != 1 {
		t.Errorf("store.getCalls after promotion = %d; want 1", store.getCalls)
	}
}

func TestTieredCacheStoreFailureDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.failAll = true
	cache := NewTieredCache(store)

	if err := cache.Set(ctx, "k", "v", CacheOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set must swallow store errors, got: %v", err)
	}

	// memory tier still serves the value
	var got string
	if err := cache.Get(ctx, "k", &got, CacheOptions{}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	other := NewTieredCache(store)
	if err := other.Get(ctx, "k", &got, CacheOptions{}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get against failing store = %v; want ErrCacheMiss", err)
	}
}

func TestTieredCacheDelete(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := NewTieredCache(store)

	if err := cache.Set(ctx, "k", "v", CacheOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	cache.Delete(ctx, "k")

	var got string
	if err := cache.Get(ctx, "k", &got, CacheOptions{}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get after Delete = %v; want ErrCacheMiss", err)
	}
	if len(store.entries) != 0 {
		t.Errorf("store still holds %d entries after Delete", len(store.entries))
	}
}

func TestTieredCacheMemoryBound(t *testing.T) {
	ctx := context.Background()
	cache := NewTieredCache(nil)
	cache.maxEntries = 8

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("k-%d", i)
		if err := cache.Set(ctx, key, i, CacheOptions{TTL: time.Minute, MemoryOnly: true}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	cache.mu.RLock()
	size := len(cache.memory)
	cache.mu.RUnlock()
	if size > 8 {
		t.Errorf("memory tier holds %d entries; want at most 8", size)
	}

	// the most recent write must survive eviction
	var got int
	if err := cache.Get(ctx, "k-19", &got, CacheOptions{MemoryOnly: true}); err != nil {
		t.Errorf("latest entry evicted: %v", err)
	}
}

func TestGetOrSet(t *testing.T) {
	ctx := context.Background()
	cache := NewTieredCache(newFakeStore())

	calls := 0
	fetch := func() (string, error) {
		calls++
		return "fetched", nil
	}

	got, err := GetOrSet(cache, ctx, "k", CacheOptions{TTL: time.Minute}, fetch)
	if err != nil || got != "fetched" {
		t.Fatalf("GetOrSet = (%q, %v); want (fetched, nil)", got, err)
	}
	got, err = GetOrSet(cache, ctx, "k", CacheOptions{TTL: time.Minute}, fetch)
	if err != nil || got != "fetched" {
		t.Fatalf("second GetOrSet = (%q, %v); want (fetched, nil)", got, err)
	}
	if calls != 1 {
		t.Errorf("fetch ran %d times; want 1", calls)
	}

	wantErr := errors.New("upstream down")
	_, err = GetOrSet(cache, ctx, "other", CacheOptions{TTL: time.Minute}, func() (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("GetOrSet error = %v; want %v", err, wantErr)
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := NewTieredCache(store)

	if err := cache.Set(ctx, "live", "v", CacheOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Set(ctx, "dead", "v", CacheOptions{TTL: -time.Second}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	removed, err := cache.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d; want 1", removed)
	}
	if _, ok := store.entries["live"]; !ok {
		t.Error("live entry must survive the sweep")
	}
}

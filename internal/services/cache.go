package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired in every tier
var ErrCacheMiss = errors.New("cache miss")

// CacheStore is the persisted tier behind TieredCache. Implementations are
// best-effort: TieredCache treats every store error as a miss and never
// surfaces it to the caller.
type CacheStore interface {
	Get(ctx context.Context, key string) (data []byte, expiresAt time.Time, err error)
	Set(ctx context.Context, key string, data []byte, expiresAt time.Time) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// DeleteExpired removes entries past their expiry and returns how many
	// were dropped. Read-time expiry checks make this defense in depth only.
	DeleteExpired(ctx context.Context) (int64, error)
}

// CacheOptions controls a single cache operation
type CacheOptions struct {
	TTL          time.Duration
	MemoryOnly   bool
	ForceRefresh bool
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// TieredCache layers a process-local memory map over a persisted CacheStore.
// The memory tier absorbs hot reads; the store survives restarts and can be
// shared across instances. The cache is advisory only: any failure in either
// tier degrades to a miss and the caller refetches from the source of truth.
type TieredCache struct {
	mu         sync.RWMutex
	memory     map[string]memoryEntry
	maxEntries int
	store      CacheStore
}

const defaultMaxMemoryEntries = 4096

// NewTieredCache creates a cache backed by the given store. A nil store
// leaves the cache memory-only.
func NewTieredCache(store CacheStore) *TieredCache {
	return &TieredCache{
		memory:     make(map[string]memoryEntry),
		maxEntries: defaultMaxMemoryEntries,
		store:      store,
	}
}

// Get looks the key up in the memory tier, then the persisted tier, and
// unmarshals the hit into dest. A persisted hit is promoted back into memory
// with the remaining TTL so subsequent reads stay cheap. Returns ErrCacheMiss
// when the key is absent, expired, or the store is unreachable.
func (c *TieredCache) Get(ctx context.Context, key string, dest interface{}, opts CacheOptions) error {
	if opts.ForceRefresh {
		return ErrCacheMiss
	}

	now := time.Now()

	c.mu.RLock()
	entry, ok := c.memory[key]
	c.mu.RUnlock()
	if ok {
		if now.Before(entry.expiresAt) {
			return json.Unmarshal(entry.data, dest)
		}
		c.mu.Lock()
		delete(c.memory, key)
		c.mu.Unlock()
	}

	if opts.MemoryOnly || c.store == nil {
		return ErrCacheMiss
	}

	data, expiresAt, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Printf("Cache store get failed for %s: %v", key, err)
		}
		return ErrCacheMiss
	}
	if !now.Before(expiresAt) {
		return ErrCacheMiss
	}

	// Promote with the remaining TTL derived from the stored expiry
	c.storeInMemory(key, data, expiresAt)

	return json.Unmarshal(data, dest)
}

// Set writes the value to the memory tier and, unless MemoryOnly, upserts the
// persisted tier with the computed absolute expiry. Store write failures are
// logged and ignored; the memory tier stays authoritative for the process.
func (c *TieredCache) Set(ctx context.Context, key string, value interface{}, opts CacheOptions) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(opts.TTL)
	c.storeInMemory(key, data, expiresAt)

	if opts.MemoryOnly || c.store == nil {
		return nil
	}
	if err := c.store.Set(ctx, key, data, expiresAt); err != nil {
		log.Printf("Cache store set failed for %s: %v", key, err)
	}
	return nil
}

// Delete removes the key from both tiers
func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.memory, key)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, key); err != nil {
		log.Printf("Cache store delete failed for %s: %v", key, err)
	}
}

// Clear drops everything from both tiers
func (c *TieredCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.memory = make(map[string]memoryEntry)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Clear(ctx); err != nil {
		log.Printf("Cache store clear failed: %v", err)
	}
}

// SweepExpired runs the persisted-tier expiry sweep
func (c *TieredCache) SweepExpired(ctx context.Context) (int64, error) {
	c.mu.Lock()
	now := time.Now()
	for k, e := range c.memory {
		if !now.Before(e.expiresAt) {
			delete(c.memory, k)
		}
	}
	c.mu.Unlock()

	if c.store == nil {
		return 0, nil
	}
	return c.store.DeleteExpired(ctx)
}

// storeInMemory inserts the entry, evicting expired entries (and the entry
// closest to expiry if still over capacity) to keep the map bounded.
func (c *TieredCache) storeInMemory(key string, data []byte, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.memory) >= c.maxEntries {
		now := time.Now()
		for k, e := range c.memory {
			if !now.Before(e.expiresAt) {
				delete(c.memory, k)
			}
		}
		if len(c.memory) >= c.maxEntries {
			var victim string
			var soonest time.Time
			for k, e := range c.memory {
				if victim == "" || e.expiresAt.Before(soonest) {
					victim = k
					soonest = e.expiresAt
				}
			}
			delete(c.memory, victim)
		}
	}

	c.memory[key] = memoryEntry{data: data, expiresAt: expiresAt}
}

// GetOrSet retrieves a value from cache, or calls the callback to fetch and
// cache it. The callback only runs on a miss.
func GetOrSet[T any](c *TieredCache, ctx context.Context, key string, opts CacheOptions, fn func() (T, error)) (T, error) {
	var result T

	err := c.Get(ctx, key, &result, opts)
	if err == nil {
		return result, nil
	}

	result, err = fn()
	if err != nil {
		return result, err
	}

	// Store in cache (cache failures never fail the caller)
	_ = c.Set(ctx, key, result, opts)

	return result, nil
}

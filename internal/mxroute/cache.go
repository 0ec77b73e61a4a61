package mxroute

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// LocalCache is a per-process TTL cache of classifications
type LocalCache struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	maxSize int
	now     func() time.Time
}

type localEntry struct {
	value     Classification
	expiresAt time.Time
}

// NewLocalCache creates a local cache; maxSize <= 0 means 10000 entries.
func NewLocalCache(maxSize int) *LocalCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LocalCache{
		entries: make(map[string]localEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns a fresh entry
func (c *LocalCache) Get(_ context.Context, domain string) (Classification, bool) {
	c.mu.RLock()
	entry, ok := c.entries[domain]
	c.mu.RUnlock()
	if !ok {
		return Classification{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, domain)
		c.mu.Unlock()
		return Classification{}, false
	}
	return entry.value, true
}

// Set stores an entry; the last writer wins
func (c *LocalCache) Set(_ context.Context, domain string, value Classification, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= c.maxSize {
		c.evictLocked(now)
	}
	value.Cached = false
	c.entries[domain] = localEntry{value: value, expiresAt: now.Add(ttl)}
}

// evictLocked drops expired entries, then the oldest if still full.
func (c *LocalCache) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(c.entries) >= c.maxSize && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of stored entries, fresh or not
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache shares classifications between worker processes
type RedisCache struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisCache wraps a connected redis client
func NewRedisCache(rdb *goredis.Client, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

// Get returns the shared entry; redis errors count as a miss
func (c *RedisCache) Get(ctx context.Context, domain string) (Classification, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+domain).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			logrus.Warnf("MX cache read failed for %s: %v", domain, err)
		}
		return Classification{}, false
	}
	var value Classification
	if err := json.Unmarshal(raw, &value); err != nil {
		logrus.Warnf("MX cache entry for %s is corrupt: %v", domain, err)
		return Classification{}, false
	}
	return value, true
}

// Set writes the entry with TTL; concurrent writers overwrite each other
func (c *RedisCache) Set(ctx context.Context, domain string, value Classification, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		logrus.Warnf("Failed to encode MX cache entry for %s: %v", domain, err)
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+domain, raw, ttl).Err(); err != nil {
		logrus.Warnf("MX cache write failed for %s: %v", domain, err)
	}
}

// TieredCache reads the local cache first and fills it from the shared one
type TieredCache struct {
	local  *LocalCache
	shared Cache
	ttl    time.Duration
	now    func() time.Time
}

// NewTieredCache layers a local cache over a shared one; ttl is the classification lifetime.
func NewTieredCache(local *LocalCache, shared Cache, ttl time.Duration) *TieredCache {
	return &TieredCache{local: local, shared: shared, ttl: ttl, now: time.Now}
}

// Get promotes shared hits into the local cache for what is left of their lifetime.
func (c *TieredCache) Get(ctx context.Context, domain string) (Classification, bool) {
	if v, ok := c.local.Get(ctx, domain); ok {
		return v, true
	}
	v, ok := c.shared.Get(ctx, domain)
	if !ok {
		return Classification{}, false
	}
	remaining := c.ttl
	if !v.CheckedAt.IsZero() {
		remaining = c.ttl - c.now().Sub(v.CheckedAt)
	}
	if remaining > 0 {
		c.local.Set(ctx, domain, v, remaining)
	}
	return v, true
}

func (c *TieredCache) Set(ctx context.Context, domain string, value Classification, ttl time.Duration) {
	c.local.Set(ctx, domain, value, ttl)
	c.shared.Set(ctx, domain, value, ttl)
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/macrolens/mealreport/internal/domain"
	"github.com/macrolens/mealreport/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheTTL is how long a cached value stays fresh
	DefaultCacheTTL = 7 * 24 * time.Hour

	// DefaultCacheMaxEntries caps the number of cached values
	DefaultCacheMaxEntries = 1000

	// DefaultCacheMaxBytes caps the estimated size of the persisted cache document
	DefaultCacheMaxBytes int64 = 4 * 1024 * 1024

	// quotaDropFraction is the share of oldest entries dropped when persisting hits the quota
	quotaDropFraction = 0.25
)

// CacheConfig holds configuration for a Cache
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
	MaxBytes   int64
	StorageKey string
	Now        func() time.Time
}

// CachedEntry is one cached value with its bookkeeping. Times are epoch milliseconds.
type CachedEntry[T any] struct {
	Data         T     `json:"data"`
	Timestamp    int64 `json:"timestamp"`
	AccessCount  int   `json:"accessCount"`
	LastAccessed int64 `json:"lastAccessed"`
}

// CacheStats summarizes the cache contents
type CacheStats struct {
	TotalEntries int        `json:"totalEntries"`
	CacheSize    int64      `json:"cacheSize"`
	OldestEntry  *time.Time `json:"oldestEntry"`
	NewestEntry  *time.Time `json:"newestEntry"`
}

// FetchFunc produces the value for a cache miss
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cache is a persisted, size-bounded cache that coalesces concurrent fetches of the same key.
// The whole cache is stored as one JSON document under StorageKey. Persisting is best effort:
// write failures never reach the caller.
type Cache[T any] struct {
	medium  domain.KeyValueMedium
	cfg     CacheConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	group   singleflight.Group

	mu      sync.Mutex
	loaded  bool
	entries map[string]*CachedEntry[T]
}

// NewCache creates a cache persisted on medium, filling unset config values with defaults
func NewCache[T any](medium domain.KeyValueMedium, cfg CacheConfig, logger *zap.Logger, m *metrics.Metrics) *Cache[T] {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheMaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultCacheMaxBytes
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = IngredientHealthStorageKey
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache[T]{
		medium:  medium,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		entries: make(map[string]*CachedEntry[T]),
	}
}

// normalizeKey makes "Salmon", " salmon " and "SALMON" the same key
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (c *Cache[T]) expired(entry *CachedEntry[T], now time.Time) bool {
	return now.UnixMilli()-entry.Timestamp >= c.cfg.TTL.Milliseconds()
}

// GetOrFetch returns the cached value for key, or runs fetch once for all concurrent callers
// of the same normalized key. The fetch runs detached from ctx: a caller that gives up gets
// ctx's error, while the fetch still completes and fills the cache. A failed fetch is not cached
// and its error is returned to every waiter.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[T]) (T, error) {
	k := normalizeKey(key)

	c.mu.Lock()
	if value, ok := c.lookupLocked(ctx, k); ok {
		c.mu.Unlock()
		c.metrics.CacheLookup("hit")
		return value, nil
	}
	c.mu.Unlock()

	// leader is only set by the caller whose function singleflight runs
	leader := false
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(k, func() (any, error) {
		leader = true

		// a fetch that completed between our lookup and DoChan already filled the cache
		c.mu.Lock()
		if value, ok := c.lookupLocked(detached, k); ok {
			c.mu.Unlock()
			return value, nil
		}
		c.mu.Unlock()

		value, err := fetch(detached)
		if err != nil {
			return nil, err
		}
		c.store(detached, k, value)
		return value, nil
	})

	var zero T
	select {
	case res := <-ch:
		if leader {
			c.metrics.CacheLookup("miss")
		} else {
			c.metrics.CacheLookup("coalesced")
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// lookupLocked returns a fresh entry and records the access; an expired entry is purged
func (c *Cache[T]) lookupLocked(ctx context.Context, k string) (T, bool) {
	c.loadLocked(ctx)

	var zero T
	entry, ok := c.entries[k]
	if !ok {
		return zero, false
	}

	now := c.cfg.Now()
	if c.expired(entry, now) {
		delete(c.entries, k)
		c.metrics.CacheEvicted("expired", 1)
		c.persistLocked(ctx)
		return zero, false
	}

	entry.AccessCount++
	entry.LastAccessed = now.UnixMilli()
	c.persistLocked(ctx)
	return entry.Data, true
}

func (c *Cache[T]) store(ctx context.Context, k string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	now := c.cfg.Now().UnixMilli()
	c.entries[k] = &CachedEntry[T]{
		Data:         value,
		Timestamp:    now,
		AccessCount:  1,
		LastAccessed: now,
	}

	c.purgeExpiredLocked()
	c.enforceEntryCapLocked()
	c.enforceByteCapLocked()
	c.persistLocked(ctx)
}

// loadLocked reads the persisted document once. An unreadable document starts an empty cache.
func (c *Cache[T]) loadLocked(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true

	raw, ok, err := c.medium.GetItem(ctx, c.cfg.StorageKey)
	if err != nil {
		c.logger.Warn("failed to read cache from storage", zap.String("key", c.cfg.StorageKey), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	var entries map[string]*CachedEntry[T]
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		c.logger.Warn("discarding unreadable cache document", zap.String("key", c.cfg.StorageKey), zap.Error(err))
		return
	}
	for k, entry := range entries {
		if entry != nil {
			c.entries[k] = entry
		}
	}
	c.purgeExpiredLocked()
}

func (c *Cache[T]) purgeExpiredLocked() {
	now := c.cfg.Now()
	removed := 0
	for k, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.metrics.CacheEvicted("expired", removed)
}

// enforceEntryCapLocked drops the least recently accessed entries down to MaxEntries
func (c *Cache[T]) enforceEntryCapLocked() {
	excess := len(c.entries) - c.cfg.MaxEntries
	if excess <= 0 {
		return
	}

	keys := c.sortedKeysLocked(func(a, b *CachedEntry[T]) bool {
		return a.LastAccessed < b.LastAccessed
	})
	for _, k := range keys[:excess] {
		delete(c.entries, k)
	}
	c.metrics.CacheEvicted("entries", excess)
	c.logger.Debug("cache entry limit reached", zap.Int("evicted", excess))
}

// enforceByteCapLocked drops the least used, then least recently accessed, entries
// until the estimated document size fits MaxBytes
func (c *Cache[T]) enforceByteCapLocked() {
	size := c.sizeLocked()
	if size <= c.cfg.MaxBytes {
		return
	}

	keys := c.sortedKeysLocked(func(a, b *CachedEntry[T]) bool {
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		return a.LastAccessed < b.LastAccessed
	})

	evicted := 0
	for _, k := range keys {
		if size <= c.cfg.MaxBytes {
			break
		}
		size -= entrySize(k, c.entries[k])
		delete(c.entries, k)
		evicted++
	}
	c.metrics.CacheEvicted("bytes", evicted)
	c.logger.Debug("cache size limit reached", zap.Int("evicted", evicted), zap.Int64("size", size))
}

func (c *Cache[T]) sortedKeysLocked(less func(a, b *CachedEntry[T]) bool) []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}

// sizeLocked estimates the persisted size as twice the JSON length
func (c *Cache[T]) sizeLocked() int64 {
	data, err := json.Marshal(c.entries)
	if err != nil {
		return 0
	}
	return int64(len(data)) * 2
}

// entrySize estimates one entry's share of the document, key and separators included
func entrySize[T any](k string, entry *CachedEntry[T]) int64 {
	key, _ := json.Marshal(k)
	value, _ := json.Marshal(entry)
	return int64(len(key)+len(value)+2) * 2
}

// persistLocked writes the document. On a quota failure the oldest quarter of the entries is
// dropped and the write retried once; if that fails too the whole cache is cleared.
func (c *Cache[T]) persistLocked(ctx context.Context) {
	err := c.writeLocked(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		c.logger.Warn("failed to persist cache", zap.String("key", c.cfg.StorageKey), zap.Error(err))
		return
	}

	dropped := c.dropOldestLocked()
	c.logger.Warn("cache storage quota exceeded, dropping oldest entries",
		zap.String("key", c.cfg.StorageKey), zap.Int("dropped", dropped))

	if err := c.writeLocked(ctx); err == nil {
		return
	}

	c.metrics.CacheEvicted("quota", len(c.entries))
	c.entries = make(map[string]*CachedEntry[T])
	if err := c.medium.RemoveItem(ctx, c.cfg.StorageKey); err != nil {
		c.logger.Warn("failed to clear cache storage", zap.String("key", c.cfg.StorageKey), zap.Error(err))
	}
	c.logger.Warn("cache cleared after repeated quota failure", zap.String("key", c.cfg.StorageKey))
}

func (c *Cache[T]) writeLocked(ctx context.Context) error {
	data, err := json.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	return c.medium.SetItem(ctx, c.cfg.StorageKey, string(data))
}

// dropOldestLocked removes the oldest 25% of entries by insertion time, at least one
func (c *Cache[T]) dropOldestLocked() int {
	if len(c.entries) == 0 {
		return 0
	}
	n := (len(c.entries)*int(quotaDropFraction*100) + 99) / 100

	keys := c.sortedKeysLocked(func(a, b *CachedEntry[T]) bool {
		return a.Timestamp < b.Timestamp
	})
	for _, k := range keys[:n] {
		delete(c.entries, k)
	}
	c.metrics.CacheEvicted("quota", n)
	return n
}

// Stats reports the number of entries, estimated size and entry time range
func (c *Cache[T]) Stats(ctx context.Context) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	stats := CacheStats{
		TotalEntries: len(c.entries),
		CacheSize:    c.sizeLocked(),
	}
	for _, entry := range c.entries {
		ts := time.UnixMilli(entry.Timestamp)
		if stats.OldestEntry == nil || ts.Before(*stats.OldestEntry) {
			oldest := ts
			stats.OldestEntry = &oldest
		}
		if stats.NewestEntry == nil || ts.After(*stats.NewestEntry) {
			newest := ts
			stats.NewestEntry = &newest
		}
	}
	return stats
}

// Clear removes every entry from memory and storage
func (c *Cache[T]) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = true
	c.entries = make(map[string]*CachedEntry[T])
	if err := c.medium.RemoveItem(ctx, c.cfg.StorageKey); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

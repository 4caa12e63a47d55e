package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/macrolens/mealreport/internal/infrastructure/kvstore"
	"github.com/macrolens/mealreport/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFetch returns a FetchFunc that yields value and counts its calls
func countingFetch(calls *atomic.Int32, value string) FetchFunc[string] {
	return func(ctx context.Context) (string, error) {
		calls.Add(1)
		return value, nil
	}
}

func newTestCache(medium *kvstore.MemoryMedium, clock *testClock, cfg CacheConfig) *Cache[string] {
	cfg.Now = clock.Now
	return NewCache[string](medium, cfg, nil, nil)
}

func TestNewCache_Defaults(t *testing.T) {
	cache := NewCache[string](kvstore.NewMemoryMedium(0), CacheConfig{}, nil, nil)

	assert.Equal(t, DefaultCacheTTL, cache.cfg.TTL)
	assert.Equal(t, DefaultCacheMaxEntries, cache.cfg.MaxEntries)
	assert.Equal(t, DefaultCacheMaxBytes, cache.cfg.MaxBytes)
	assert.Equal(t, IngredientHealthStorageKey, cache.cfg.StorageKey)
}

func TestCache_CoalescesConcurrentFetches(t *testing.T) {
	cache := newTestCache(kvstore.NewMemoryMedium(0), newTestClock(), CacheConfig{})

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "omega-3", nil
	}

	const callers = 20
	results := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrFetch(context.Background(), "Salmon", fetch)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "omega-3", results[i])
	}
}

func TestCache_NormalizesKeys(t *testing.T) {
	cache := newTestCache(kvstore.NewMemoryMedium(0), newTestClock(), CacheConfig{})
	var calls atomic.Int32

	for _, key := range []string{"Salmon", " salmon ", "SALMON"} {
		value, err := cache.GetOrFetch(context.Background(), key, countingFetch(&calls, "fish"))
		require.NoError(t, err)
		assert.Equal(t, "fish", value)
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	clock := newTestClock()
	cache := newTestCache(kvstore.NewMemoryMedium(0), clock, CacheConfig{})
	var calls atomic.Int32
	ctx := context.Background()

	_, err := cache.GetOrFetch(ctx, "kale", countingFetch(&calls, "v1"))
	require.NoError(t, err)

	clock.Advance(DefaultCacheTTL - time.Millisecond)
	value, err := cache.GetOrFetch(ctx, "kale", countingFetch(&calls, "v2"))
	require.NoError(t, err)
	assert.Equal(t, "v1", value)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Millisecond)
	value, err = cache.GetOrFetch(ctx, "kale", countingFetch(&calls, "v2"))
	require.NoError(t, err)
	assert.Equal(t, "v2", value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_FailureIsNotCached(t *testing.T) {
	cache := newTestCache(kvstore.NewMemoryMedium(0), newTestClock(), CacheConfig{})
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := cache.GetOrFetch(ctx, "tofu", func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Stats(ctx).TotalEntries)

	var calls atomic.Int32
	value, err := cache.GetOrFetch(ctx, "tofu", countingFetch(&calls, "soy"))
	require.NoError(t, err)
	assert.Equal(t, "soy", value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_FailureIsSharedByWaiters(t *testing.T) {
	cache := newTestCache(kvstore.NewMemoryMedium(0), newTestClock(), CacheConfig{})
	boom := errors.New("boom")

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "", boom
	}

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.GetOrFetch(context.Background(), "rice", fetch)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	// callers arriving after the failure start a fresh fetch
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.LessOrEqual(t, calls.Load(), int32(callers))
}

func TestCache_FetchOutlivesCancelledCaller(t *testing.T) {
	cache := newTestCache(kvstore.NewMemoryMedium(0), newTestClock(), CacheConfig{})

	started := make(chan struct{})
	release := make(chan struct{})
	fetchErr := make(chan error, 1)
	fetch := func(ctx context.Context) (string, error) {
		close(started)
		<-release
		fetchErr <- ctx.Err()
		return "warm", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.GetOrFetch(ctx, "oats", fetch)
		done <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.NoError(t, <-fetchErr)

	var calls atomic.Int32
	value, err := cache.GetOrFetch(context.Background(), "oats", countingFetch(&calls, "cold"))
	require.NoError(t, err)
	assert.Equal(t, "warm", value)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCache_EntryCapEvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newTestClock()
	cache := newTestCache(kvstore.NewMemoryMedium(0), clock, CacheConfig{MaxEntries: 2})
	ctx := context.Background()
	var calls atomic.Int32

	for _, key := range []string{"a", "b"} {
		_, err := cache.GetOrFetch(ctx, key, countingFetch(&calls, key))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	// touching a makes b the least recently accessed
	_, err := cache.GetOrFetch(ctx, "a", countingFetch(&calls, "a"))
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = cache.GetOrFetch(ctx, "c", countingFetch(&calls, "c"))
	require.NoError(t, err)

	assert.Equal(t, 2, cache.Stats(ctx).TotalEntries)
	assert.Contains(t, cache.entries, "a")
	assert.Contains(t, cache.entries, "c")
	assert.NotContains(t, cache.entries, "b")
}

func TestCache_ByteCapEvictsLeastUsed(t *testing.T) {
	clock := newTestClock()
	cache := newTestCache(kvstore.NewMemoryMedium(0), clock, CacheConfig{MaxBytes: 5000})
	ctx := context.Background()
	var calls atomic.Int32
	big := strings.Repeat("x", 1000)

	_, err := cache.GetOrFetch(ctx, "a", countingFetch(&calls, big))
	require.NoError(t, err)
	clock.Advance(time.Second)
	for i := 0; i < 2; i++ {
		_, err = cache.GetOrFetch(ctx, "a", countingFetch(&calls, big))
		require.NoError(t, err)
	}
	clock.Advance(time.Second)

	_, err = cache.GetOrFetch(ctx, "b", countingFetch(&calls, big))
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = cache.GetOrFetch(ctx, "c", countingFetch(&calls, big))
	require.NoError(t, err)

	assert.Contains(t, cache.entries, "a", "most used entry survives")
	assert.Contains(t, cache.entries, "c")
	assert.NotContains(t, cache.entries, "b")
	assert.LessOrEqual(t, cache.Stats(ctx).CacheSize, int64(5000))
}

func TestCache_QuotaFailureDropsOldestQuarter(t *testing.T) {
	clock := newTestClock()
	medium := kvstore.NewMemoryMedium(3300)
	m := metrics.New()
	cache := NewCache[string](medium, CacheConfig{Now: clock.Now}, nil, m)
	ctx := context.Background()
	var calls atomic.Int32
	value := strings.Repeat("y", 400)

	for _, key := range []string{"a", "b", "c", "d"} {
		got, err := cache.GetOrFetch(ctx, key, countingFetch(&calls, value))
		require.NoError(t, err)
		assert.Equal(t, value, got)
		clock.Advance(time.Second)
	}

	assert.NotContains(t, cache.entries, "a")
	assert.Len(t, cache.entries, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEvictionTotal.WithLabelValues("quota")))

	raw, ok, err := medium.GetItem(ctx, IngredientHealthStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, `"a"`)
	assert.Contains(t, raw, `"d"`)
}

func TestCache_QuotaFailureClearsCacheSilently(t *testing.T) {
	medium := kvstore.NewMemoryMedium(40)
	cache := newTestCache(medium, newTestClock(), CacheConfig{})
	ctx := context.Background()
	var calls atomic.Int32

	value, err := cache.GetOrFetch(ctx, "quinoa", countingFetch(&calls, "grain"))
	require.NoError(t, err)
	assert.Equal(t, "grain", value)

	assert.Equal(t, 0, cache.Stats(ctx).TotalEntries)
	_, ok, err := medium.GetItem(ctx, IngredientHealthStorageKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_PersistsAcrossInstances(t *testing.T) {
	clock := newTestClock()
	medium := kvstore.NewMemoryMedium(0)
	ctx := context.Background()
	var calls atomic.Int32

	first := newTestCache(medium, clock, CacheConfig{})
	_, err := first.GetOrFetch(ctx, "lentils", countingFetch(&calls, "fiber"))
	require.NoError(t, err)

	second := newTestCache(medium, clock, CacheConfig{})
	value, err := second.GetOrFetch(ctx, "Lentils", countingFetch(&calls, "other"))
	require.NoError(t, err)
	assert.Equal(t, "fiber", value)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(DefaultCacheTTL)
	third := newTestCache(medium, clock, CacheConfig{})
	assert.Equal(t, 0, third.Stats(ctx).TotalEntries, "expired entries are purged on load")
}

func TestCache_UnreadableDocumentStartsEmpty(t *testing.T) {
	medium := kvstore.NewMemoryMedium(0)
	ctx := context.Background()
	require.NoError(t, medium.SetItem(ctx, IngredientHealthStorageKey, "{broken"))

	cache := newTestCache(medium, newTestClock(), CacheConfig{})
	var calls atomic.Int32
	value, err := cache.GetOrFetch(ctx, "beans", countingFetch(&calls, "protein"))
	require.NoError(t, err)
	assert.Equal(t, "protein", value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_StatsAndClear(t *testing.T) {
	clock := newTestClock()
	medium := kvstore.NewMemoryMedium(0)
	cache := newTestCache(medium, clock, CacheConfig{})
	ctx := context.Background()
	var calls atomic.Int32

	empty := cache.Stats(ctx)
	assert.Equal(t, 0, empty.TotalEntries)
	assert.Nil(t, empty.OldestEntry)
	assert.Nil(t, empty.NewestEntry)

	start := clock.Now()
	_, err := cache.GetOrFetch(ctx, "egg", countingFetch(&calls, "e"))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = cache.GetOrFetch(ctx, "milk", countingFetch(&calls, "m"))
	require.NoError(t, err)

	stats := cache.Stats(ctx)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Positive(t, stats.CacheSize)
	require.NotNil(t, stats.OldestEntry)
	require.NotNil(t, stats.NewestEntry)
	assert.True(t, stats.OldestEntry.Equal(start))
	assert.True(t, stats.NewestEntry.Equal(start.Add(time.Minute)))

	require.NoError(t, cache.Clear(ctx))
	assert.Equal(t, 0, cache.Stats(ctx).TotalEntries)
	_, ok, err := medium.GetItem(ctx, IngredientHealthStorageKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_LookupMetrics(t *testing.T) {
	m := metrics.New()
	cache := NewCache[string](kvstore.NewMemoryMedium(0), CacheConfig{}, nil, m)
	ctx := context.Background()
	var calls atomic.Int32

	_, err := cache.GetOrFetch(ctx, "apple", countingFetch(&calls, "fruit"))
	require.NoError(t, err)
	_, err = cache.GetOrFetch(ctx, "apple", countingFetch(&calls, "fruit"))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupTotal.WithLabelValues("hit")))
}

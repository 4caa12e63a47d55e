package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/macrolens/mealreport/internal/domain"
	"github.com/macrolens/mealreport/internal/metrics"
	"go.uber.org/zap"
)

const (
	// DefaultBudgetBytes is a conservative budget below common browser quotas
	DefaultBudgetBytes int64 = 4 * 1024 * 1024

	// DefaultCleanupThreshold starts cleanup at 80% of the budget
	DefaultCleanupThreshold = 0.8

	// DefaultFreeFraction is the share of the budget a cleanup tries to free
	DefaultFreeFraction = 0.3

	// DefaultReportPrefix marks the keys that cleanup may evict
	DefaultReportPrefix = "report-"
)

// QuotaConfig holds the budget settings for a QuotaStore
type QuotaConfig struct {
	BudgetBytes      int64
	CleanupThreshold float64
	FreeFraction     float64
	Prefix           string
}

// StorageItem describes one stored entry for usage reporting and eviction ranking
type StorageItem struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// StorageUsage is a snapshot of the medium
type StorageUsage struct {
	Used        int64         `json:"used"`
	BudgetBytes int64         `json:"budgetBytes"`
	Items       []StorageItem `json:"items"`
}

// Percentage returns used bytes as a percentage of the budget
func (u StorageUsage) Percentage() float64 {
	if u.BudgetBytes <= 0 {
		return 0
	}
	return float64(u.Used) / float64(u.BudgetBytes) * 100
}

// QuotaStore wraps a KeyValueMedium with a soft byte budget.
// On a quota failure it evicts the oldest prefixed entries and retries the write once.
type QuotaStore struct {
	medium  domain.KeyValueMedium
	cfg     QuotaConfig
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// QuotaOption customizes a QuotaStore
type QuotaOption func(*QuotaStore)

// WithClock replaces the clock used when a record carries no timestamp
func WithClock(now func() time.Time) QuotaOption {
	return func(s *QuotaStore) { s.now = now }
}

// WithMetrics records evictions
func WithMetrics(m *metrics.Metrics) QuotaOption {
	return func(s *QuotaStore) { s.metrics = m }
}

// NewQuotaStore creates a QuotaStore, filling unset config values with defaults
func NewQuotaStore(medium domain.KeyValueMedium, cfg QuotaConfig, logger *zap.Logger, opts ...QuotaOption) *QuotaStore {
	if cfg.BudgetBytes <= 0 {
		cfg.BudgetBytes = DefaultBudgetBytes
	}
	if cfg.CleanupThreshold <= 0 {
		cfg.CleanupThreshold = DefaultCleanupThreshold
	}
	if cfg.FreeFraction <= 0 {
		cfg.FreeFraction = DefaultFreeFraction
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultReportPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &QuotaStore{
		medium: medium,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prefix returns the evictable key prefix
func (s *QuotaStore) Prefix() string {
	return s.cfg.Prefix
}

// Medium returns the underlying medium
func (s *QuotaStore) Medium() domain.KeyValueMedium {
	return s.medium
}

// Set writes a value. A quota failure triggers one cleanup and one retry;
// if the retry fails too the error is returned and wraps domain.ErrQuotaExceeded.
func (s *QuotaStore) Set(ctx context.Context, key, value string) error {
	err := s.medium.SetItem(ctx, key, value)
	if err == nil || !errors.Is(err, domain.ErrQuotaExceeded) {
		return err
	}

	s.logger.Warn("key-value quota exceeded, attempting cleanup", zap.String("key", key), zap.Error(err))
	if cerr := s.Cleanup(ctx); cerr != nil {
		s.logger.Warn("quota cleanup failed", zap.Error(cerr))
	}

	if err := s.medium.SetItem(ctx, key, value); err != nil {
		s.logger.Error("failed to store item even after cleanup", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("store %q after cleanup: %w", key, err)
	}
	return nil
}

// Get reads a value
func (s *QuotaStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.medium.GetItem(ctx, key)
}

// Remove deletes a value
func (s *QuotaStore) Remove(ctx context.Context, key string) error {
	return s.medium.RemoveItem(ctx, key)
}

// ListKeys returns every key starting with prefix, in lexical order
func (s *QuotaStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.medium.Keys(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// Usage reports the estimated size of every entry in the medium
func (s *QuotaStore) Usage(ctx context.Context) (StorageUsage, error) {
	items, err := s.items(ctx, "")
	if err != nil {
		return StorageUsage{}, err
	}
	usage := StorageUsage{BudgetBytes: s.cfg.BudgetBytes, Items: items}
	for _, item := range items {
		usage.Used += item.Size
	}
	return usage, nil
}

// Cleanup evicts the oldest prefixed entries once they use at least the cleanup
// threshold of the budget, stopping when the free fraction of the budget has been
// released. Keys outside the prefix are never evicted.
func (s *QuotaStore) Cleanup(ctx context.Context) error {
	items, err := s.items(ctx, s.cfg.Prefix)
	if err != nil {
		return err
	}

	var used int64
	for _, item := range items {
		used += item.Size
	}
	if float64(used) < float64(s.cfg.BudgetBytes)*s.cfg.CleanupThreshold {
		return nil
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})

	target := int64(float64(s.cfg.BudgetBytes) * s.cfg.FreeFraction)
	var freed int64
	evicted := 0
	for _, item := range items {
		if freed >= target {
			break
		}
		if err := s.medium.RemoveItem(ctx, item.Key); err != nil {
			s.logger.Warn("failed to evict record", zap.String("key", item.Key), zap.Error(err))
			continue
		}
		s.logger.Info("removing old record", zap.String("key", item.Key), zap.Time("timestamp", item.Timestamp))
		freed += item.Size
		evicted++
	}

	s.metrics.QuotaEvicted(evicted)
	s.logger.Info("cleanup completed", zap.Int64("freedBytes", freed), zap.Int("evicted", evicted))
	return nil
}

func (s *QuotaStore) items(ctx context.Context, prefix string) ([]StorageItem, error) {
	keys, err := s.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	items := make([]StorageItem, 0, len(keys))
	for _, key := range keys {
		value, ok, err := s.medium.GetItem(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		items = append(items, StorageItem{
			Key:       key,
			Timestamp: s.recordTimestamp(value),
			Size:      EstimateSize(key, value),
		})
	}
	return items, nil
}

// recordTimestamp extracts the top-level "timestamp" (epoch milliseconds) of a stored
// record, defaulting to now when the value is not a JSON object carrying one.
func (s *QuotaStore) recordTimestamp(value string) time.Time {
	var probe struct {
		Timestamp *float64 `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(value), &probe); err != nil || probe.Timestamp == nil || *probe.Timestamp <= 0 {
		return s.now()
	}
	return time.UnixMilli(int64(*probe.Timestamp))
}

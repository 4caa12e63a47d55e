package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/macrolens/mealreport/internal/domain"
	"github.com/macrolens/mealreport/internal/metrics"
	"go.uber.org/zap"
)

// IngredientHealthStorageKey is the key-value key holding the persisted ingredient health cache
const IngredientHealthStorageKey = "ingredient-health-cache"

// IngredientHealthService answers ingredient health lookups from a shared cache,
// asking the analysis endpoint at most once per ingredient at a time.
type IngredientHealthService struct {
	fetcher domain.IngredientHealthFetcher
	cache   *Cache[domain.IngredientHealthInfo]
	logger  *zap.Logger
}

// NewIngredientHealthService creates a new ingredient health service
func NewIngredientHealthService(
	fetcher domain.IngredientHealthFetcher,
	medium domain.KeyValueMedium,
	cfg CacheConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *IngredientHealthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngredientHealthService{
		fetcher: fetcher,
		cache:   NewCache[domain.IngredientHealthInfo](medium, cfg, logger, m),
		logger:  logger,
	}
}

// GetIngredientHealth returns the health info for an ingredient. Names differing only in
// case or surrounding space share one cache entry. Failures are not cached.
func (s *IngredientHealthService) GetIngredientHealth(ctx context.Context, name string) (*domain.IngredientHealthInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: ingredient name is required", domain.ErrInvalidRequest)
	}

	info, err := s.cache.GetOrFetch(ctx, name, func(ctx context.Context) (domain.IngredientHealthInfo, error) {
		s.logger.Debug("fetching ingredient health", zap.String("ingredient", name))
		info, err := s.fetcher.FetchIngredientHealth(ctx, name)
		if err != nil {
			return domain.IngredientHealthInfo{}, err
		}
		return *info, nil
	})
	if err != nil {
		s.logger.Warn("ingredient health lookup failed", zap.String("ingredient", name), zap.Error(err))
		return nil, err
	}
	return &info, nil
}

// Stats summarizes the ingredient health cache
func (s *IngredientHealthService) Stats(ctx context.Context) CacheStats {
	return s.cache.Stats(ctx)
}

// ClearCache drops every cached ingredient
func (s *IngredientHealthService) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

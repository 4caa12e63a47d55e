package app

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/macrolens/mealreport/config"
	httpDelivery "github.com/macrolens/mealreport/internal/delivery/http"
	"github.com/macrolens/mealreport/internal/domain"
	"github.com/macrolens/mealreport/internal/infrastructure/filestore"
	"github.com/macrolens/mealreport/internal/infrastructure/healthapi"
	"github.com/macrolens/mealreport/internal/infrastructure/kvstore"
	"github.com/macrolens/mealreport/internal/infrastructure/reportstore"
	"github.com/macrolens/mealreport/internal/metrics"
	"github.com/macrolens/mealreport/internal/usecase"
	"go.uber.org/zap"
)

const redisNamespace = "mealreport"

// App is the process-scoped context: every shared component is built here once
// and handed to the layers that need it.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	router *gin.Engine

	Metrics          *metrics.Metrics
	Medium           domain.KeyValueMedium
	Quota            *kvstore.QuotaStore
	Reports          *usecase.ReportRepository
	IngredientHealth *usecase.IngredientHealthService
	Broker           *usecase.ActivationBroker

	closers []io.Closer
}

// New initializes the application: config → storage → services → routes.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger, Metrics: metrics.New()}

	medium, err := a.openMedium()
	if err != nil {
		return nil, fmt.Errorf("key-value medium: %w", err)
	}
	a.Medium = medium

	a.Quota = kvstore.NewQuotaStore(medium, kvstore.QuotaConfig{
		BudgetBytes:      cfg.Storage.QuotaBytes,
		CleanupThreshold: cfg.Storage.CleanupThreshold,
		FreeFraction:     cfg.Storage.CleanupFreeFraction,
		Prefix:           cfg.Storage.ReportPrefix,
	}, logger.Named("kvstore"), kvstore.WithMetrics(a.Metrics))

	storeLogger := logger.Named("reportstore")
	var backends []domain.ReportBackend
	if cfg.Storage.FilesystemEnabled {
		dir := filestore.NewOsDataDir(cfg.Storage.DataDir)
		backends = append(backends, reportstore.NewFilesystemBackend(dir, cfg.Storage.ReportsDir, storeLogger))
	}
	backends = append(backends, reportstore.NewKeyValueBackend(a.Quota, storeLogger))

	a.Reports = usecase.NewReportRepository(backends, usecase.ReportRepositoryConfig{
		CompactionDelay: cfg.Storage.CompactionDelay,
	}, logger.Named("reports"), a.Metrics)

	client := healthapi.NewClient(healthapi.ClientConfig{
		BaseURL:           cfg.HealthAPI.BaseURL,
		APIKey:            cfg.HealthAPI.APIKey,
		Timeout:           cfg.HealthAPI.Timeout,
		RequestsPerSecond: cfg.HealthAPI.RequestsPerSecond,
		Burst:             cfg.HealthAPI.Burst,
		MaxRetries:        cfg.HealthAPI.MaxRetries,
	}, logger.Named("healthapi"))
	if cfg.Server.Environment == "development" {
		client.SetDebug(true)
	}

	a.IngredientHealth = usecase.NewIngredientHealthService(client, medium, usecase.CacheConfig{
		TTL:        cfg.HealthCache.TTL,
		MaxEntries: cfg.HealthCache.MaxEntries,
		MaxBytes:   cfg.HealthCache.MaxBytes,
		StorageKey: cfg.HealthCache.StorageKey,
	}, logger.Named("ingredients"), a.Metrics)

	a.Broker = usecase.NewActivationBroker(logger.Named("popups"))

	handler := httpDelivery.NewHandler(a.Reports, a.IngredientHealth, a.Broker, a.Quota, logger.Named("http"))
	a.router = httpDelivery.SetupRouter(cfg, handler, logger, a.Metrics)

	return a, nil
}

// openMedium opens the configured key-value medium
func (a *App) openMedium() (domain.KeyValueMedium, error) {
	s := a.cfg.Storage
	switch s.KVType {
	case "sqlite":
		if dir := filepath.Dir(s.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		medium, err := kvstore.NewSQLiteMedium(s.SQLitePath, s.MediumCapacityBytes)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, medium)
		a.logger.Info("using sqlite key-value medium", zap.String("path", s.SQLitePath))
		return medium, nil
	case "redis":
		medium, err := kvstore.NewRedisMedium(s.RedisURL, redisNamespace, s.MediumCapacityBytes)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, medium)
		a.logger.Info("using redis key-value medium")
		return medium, nil
	default:
		a.logger.Info("using in-memory key-value medium")
		return kvstore.NewMemoryMedium(s.MediumCapacityBytes), nil
	}
}

// Addr returns the listen address.
func (a *App) Addr() string { return ":" + a.cfg.Server.Port }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown finishes pending report compactions and closes the storage medium.
func (a *App) Shutdown() error {
	a.Reports.Close()

	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

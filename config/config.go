package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	HealthCache HealthCacheConfig `mapstructure:"health_cache"`
	HealthAPI   HealthAPIConfig   `mapstructure:"health_api"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig holds report storage configuration
type StorageConfig struct {
	KVType              string        `mapstructure:"kv_type"` // "memory", "sqlite" or "redis"
	SQLitePath          string        `mapstructure:"sqlite_path"`
	RedisURL            string        `mapstructure:"redis_url"`
	MediumCapacityBytes int64         `mapstructure:"medium_capacity_bytes"`
	QuotaBytes          int64         `mapstructure:"quota_bytes"`
	CleanupThreshold    float64       `mapstructure:"cleanup_threshold"`
	CleanupFreeFraction float64       `mapstructure:"cleanup_free_fraction"`
	ReportPrefix        string        `mapstructure:"report_prefix"`
	FilesystemEnabled   bool          `mapstructure:"filesystem_enabled"`
	DataDir             string        `mapstructure:"data_dir"`
	ReportsDir          string        `mapstructure:"reports_dir"`
	CompactionDelay     time.Duration `mapstructure:"compaction_delay"`
}

// HealthCacheConfig holds ingredient health cache configuration
type HealthCacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	MaxBytes   int64         `mapstructure:"max_bytes"`
	StorageKey string        `mapstructure:"storage_key"`
}

// HealthAPIConfig holds the ingredient health endpoint configuration
type HealthAPIConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/mealreport/")

	// Environment variable settings: storage.kv_type is read from MEALREPORT_STORAGE_KV_TYPE
	v.SetEnvPrefix("MEALREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using environment variables and defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads a .env file from the working directory when one exists.
// Variables already set in the environment win.
func loadEnvFile() error {
	if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(".env")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "capacitor://localhost"})

	// Storage defaults
	v.SetDefault("storage.kv_type", "memory")
	v.SetDefault("storage.sqlite_path", "./data/kv.db")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.medium_capacity_bytes", 5*1024*1024)
	v.SetDefault("storage.quota_bytes", 4*1024*1024)
	v.SetDefault("storage.cleanup_threshold", 0.8)
	v.SetDefault("storage.cleanup_free_fraction", 0.3)
	v.SetDefault("storage.report_prefix", "report-")
	v.SetDefault("storage.filesystem_enabled", true)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.reports_dir", "reports")
	v.SetDefault("storage.compaction_delay", "1s")

	// Ingredient health cache defaults
	v.SetDefault("health_cache.ttl", "168h") // 7 days
	v.SetDefault("health_cache.max_entries", 1000)
	v.SetDefault("health_cache.max_bytes", 4*1024*1024)
	v.SetDefault("health_cache.storage_key", "ingredient-health-cache")

	// Ingredient health API defaults
	v.SetDefault("health_api.base_url", "")
	v.SetDefault("health_api.api_key", "")
	v.SetDefault("health_api.timeout", "30s")
	v.SetDefault("health_api.requests_per_second", 2)
	v.SetDefault("health_api.burst", 5)
	v.SetDefault("health_api.max_retries", 3)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.HealthAPI.BaseURL == "" {
		return fmt.Errorf("ingredient health API base URL is required (set MEALREPORT_HEALTH_API_BASE_URL)")
	}

	s := config.Storage
	switch s.KVType {
	case "memory":
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("SQLite path is required when storage kv_type is 'sqlite'")
		}
	case "redis":
		if s.RedisURL == "" {
			return fmt.Errorf("Redis URL is required when storage kv_type is 'redis'")
		}
	default:
		return fmt.Errorf("storage kv_type must be 'memory', 'sqlite' or 'redis', got: %s", s.KVType)
	}

	if s.QuotaBytes <= 0 || s.MediumCapacityBytes <= 0 {
		return fmt.Errorf("storage quota_bytes and medium_capacity_bytes must be positive")
	}
	if s.CleanupThreshold <= 0 || s.CleanupThreshold > 1 {
		return fmt.Errorf("storage cleanup_threshold must be in (0, 1], got: %v", s.CleanupThreshold)
	}
	if s.CleanupFreeFraction <= 0 || s.CleanupFreeFraction > 1 {
		return fmt.Errorf("storage cleanup_free_fraction must be in (0, 1], got: %v", s.CleanupFreeFraction)
	}
	if s.FilesystemEnabled && s.DataDir == "" {
		return fmt.Errorf("storage data_dir is required when the filesystem backend is enabled")
	}

	return nil
}

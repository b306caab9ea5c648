package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rewardkit/adapters/redis"
	"rewardkit/adapters/sqlx"
	"rewardkit/engine"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Storage adapter names accepted by StorageConfig.Adapter.
const (
	AdapterMemory = "memory"
	AdapterRedis  = "redis"
	AdapterSQL    = "sql"
	AdapterFile   = "file"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"REWARDKIT_ENV"`
	Profile     string      `json:"profile" env:"REWARDKIT_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Rule engine tuning
	Engine EngineConfig `json:"engine"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics and monitoring
	Metrics MetricsConfig `json:"metrics"`

	// Security configuration
	Security SecurityConfig `json:"security"`

	// Outbound webhooks
	Webhooks WebhookConfig `json:"webhooks"`

	// Analytics rollup export
	Analytics AnalyticsConfig `json:"analytics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"REWARDKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"REWARDKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"REWARDKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"REWARDKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"REWARDKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"REWARDKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"REWARDKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"REWARDKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration. Adapter settings are
// read from REWARDKIT_STORAGE_REDIS_* and REWARDKIT_STORAGE_SQL_* using the
// field names (e.g. REWARDKIT_STORAGE_SQL_DSN).
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"REWARDKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty" envPrefix:"REWARDKIT_STORAGE_REDIS_"`
	SQL     sqlx.Config  `json:"sql,omitempty" envPrefix:"REWARDKIT_STORAGE_SQL_"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"REWARDKIT_STORAGE_FILE_PATH"`
}

// EngineConfig tunes rule evaluation.
type EngineConfig struct {
	// HistoryWindow is how many prior events conditions see.
	HistoryWindow int `json:"history_window" env:"REWARDKIT_ENGINE_HISTORY_WINDOW"`
	// RuleCacheTTL bounds how long compiled rules are reused; 0 disables caching.
	RuleCacheTTL time.Duration `json:"rule_cache_ttl" env:"REWARDKIT_ENGINE_RULE_CACHE_TTL"`
	// CountIncludesTrigger is the default for count conditions without includeTrigger.
	CountIncludesTrigger bool `json:"count_includes_trigger" env:"REWARDKIT_ENGINE_COUNT_INCLUDES_TRIGGER"`
	// CommitRetries bounds re-reads after a concurrent wallet update.
	CommitRetries int `json:"commit_retries" env:"REWARDKIT_ENGINE_COMMIT_RETRIES"`
	// RulesFile is loaded on startup when set (YAML or JSON by extension).
	RulesFile string `json:"rules_file" env:"REWARDKIT_ENGINE_RULES_FILE"`
	// AsyncDispatch publishes domain events from worker goroutines.
	AsyncDispatch bool `json:"async_dispatch" env:"REWARDKIT_ENGINE_ASYNC_DISPATCH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"REWARDKIT_LOG_LEVEL"`
	Format     string            `json:"format" env:"REWARDKIT_LOG_FORMAT"`
	Output     string            `json:"output" env:"REWARDKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"REWARDKIT_LOG_ATTRIBUTES" envKeyValSeparator:"="`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"REWARDKIT_METRICS_ENABLED"`
	Address string `json:"address" env:"REWARDKIT_METRICS_ADDR"`
	Path    string `json:"path" env:"REWARDKIT_METRICS_PATH"`
	// CollectSystem adds Go runtime and process collectors.
	CollectSystem bool `json:"collect_system" env:"REWARDKIT_METRICS_COLLECT_SYSTEM"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"REWARDKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"REWARDKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"REWARDKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"REWARDKIT_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"REWARDKIT_SECURITY_RATE_LIMIT_CLEANUP"`
}

// WebhookConfig configures outbound domain event delivery.
type WebhookConfig struct {
	URLs    []string      `json:"urls,omitempty" env:"REWARDKIT_WEBHOOK_URLS"`
	Secret  string        `json:"secret,omitempty" env:"REWARDKIT_WEBHOOK_SECRET"`
	Types   []string      `json:"types,omitempty" env:"REWARDKIT_WEBHOOK_TYPES"`
	Timeout time.Duration `json:"timeout" env:"REWARDKIT_WEBHOOK_TIMEOUT"`
}

// Enabled reports whether any endpoint is configured.
func (w WebhookConfig) Enabled() bool { return len(w.URLs) > 0 }

// AnalyticsConfig controls periodic rollups. Rollups are always logged;
// ExportURL additionally POSTs them in batches.
type AnalyticsConfig struct {
	Interval     time.Duration `json:"interval" env:"REWARDKIT_ANALYTICS_INTERVAL"`
	ExportURL    string        `json:"export_url,omitempty" env:"REWARDKIT_ANALYTICS_EXPORT_URL"`
	ExportAPIKey string        `json:"export_api_key,omitempty" env:"REWARDKIT_ANALYTICS_EXPORT_API_KEY"`
	BatchSize    int           `json:"batch_size" env:"REWARDKIT_ANALYTICS_BATCH_SIZE"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load from environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	// Validate the path for security
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables override file values
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: AdapterMemory,
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/rewardkit.json",
			},
		},
		Engine: EngineConfig{
			HistoryWindow:        engine.DefaultHistoryWindow,
			RuleCacheTTL:         engine.DefaultRuleCacheTTL,
			CountIncludesTrigger: true,
			CommitRetries:        engine.DefaultCommitRetries,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Address:       ":9090",
			Path:          "/metrics",
			CollectSystem: true,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		Webhooks: WebhookConfig{
			Timeout: 5 * time.Second,
		},
		Analytics: AnalyticsConfig{
			Interval:  time.Hour,
			BatchSize: 10,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		fn   func() error
	}{
		{"server", c.Server.Validate},
		{"storage", c.Storage.Validate},
		{"engine", c.Engine.Validate},
		{"logging", c.Logging.Validate},
		{"metrics", c.Metrics.Validate},
		{"security", c.Security.Validate},
		{"webhooks", c.Webhooks.Validate},
		{"analytics", c.Analytics.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Webhooks.Secret != "" {
		cfg.Webhooks.Secret = "[REDACTED]"
	}
	if cfg.Analytics.ExportAPIKey != "" {
		cfg.Analytics.ExportAPIKey = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}

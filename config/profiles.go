package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the defaults for a named deployment profile with
// environment overrides applied.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	switch Environment(name) {
	case EnvDevelopment:
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case EnvTesting:
		cfg.Logging.Level = "warn"
		cfg.Engine.RuleCacheTTL = 0
		cfg.Server.ShutdownTimeout = 5 * time.Second
	case EnvStaging:
		cfg.Storage.Adapter = AdapterRedis
		cfg.Metrics.Enabled = true
	case EnvProduction:
		cfg.Storage.Adapter = AdapterSQL
		cfg.Server.CORSOrigin = ""
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true
		cfg.Engine.AsyncDispatch = true
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	cfg.Environment = Environment(name)
	cfg.Profile = name

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

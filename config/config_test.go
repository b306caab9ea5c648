package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardkit/adapters/sqlx"
)

func validConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Address:           ":8080",
			ReadTimeout:       time.Second,
			WriteTimeout:      time.Second,
			IdleTimeout:       time.Second,
			ReadHeaderTimeout: time.Second,
			ShutdownTimeout:   time.Second,
		},
		Storage: StorageConfig{
			Adapter: AdapterMemory,
		},
		Engine: EngineConfig{
			HistoryWindow: 10,
			CommitRetries: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, AdapterMemory, cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Engine.CountIncludesTrigger)
	assert.Equal(t, 100, cfg.Engine.HistoryWindow)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REWARDKIT_SERVER_ADDR", ":7070")
	t.Setenv("REWARDKIT_ENGINE_RULE_CACHE_TTL", "2m")
	t.Setenv("REWARDKIT_ENGINE_COUNT_INCLUDES_TRIGGER", "false")
	t.Setenv("REWARDKIT_SECURITY_API_KEYS", "a,b")
	t.Setenv("REWARDKIT_LOG_ATTRIBUTES", "service=rewardkit,region=eu")
	t.Setenv("REWARDKIT_STORAGE_ADAPTER", "sql")
	t.Setenv("REWARDKIT_STORAGE_SQL_DRIVER", "sqlite3")
	t.Setenv("REWARDKIT_STORAGE_SQL_DSN", "file:test.db")
	t.Setenv("REWARDKIT_STORAGE_REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 2*time.Minute, cfg.Engine.RuleCacheTTL)
	assert.False(t, cfg.Engine.CountIncludesTrigger)
	assert.Equal(t, []string{"a", "b"}, cfg.Security.APIKeys)
	assert.Equal(t, map[string]string{"service": "rewardkit", "region": "eu"}, cfg.Logging.Attributes)
	assert.Equal(t, sqlx.DriverSQLite, cfg.Storage.SQL.Driver)
	assert.Equal(t, "file:test.db", cfg.Storage.SQL.DSN)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	// untouched fields keep their defaults
	assert.Equal(t, 10, cfg.Storage.SQL.MaxOpenConns)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("REWARDKIT_ENGINE_HISTORY_WINDOW", "lots")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	configContent := `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "memory"
		},
		"engine": {
			"history_window": 25,
			"rules_file": "rules.yaml"
		}
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, AdapterMemory, cfg.Storage.Adapter)
	assert.Equal(t, 25, cfg.Engine.HistoryWindow)
	assert.Equal(t, "rules.yaml", cfg.Engine.RulesFile)
	// defaults survive a partial file
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid config", func(*Config) {}, false},
		{"invalid environment", func(c *Config) { c.Environment = "" }, true},
		{"invalid server timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, true},
		{"unknown adapter", func(c *Config) { c.Storage.Adapter = "mongo" }, true},
		{"sql without dsn", func(c *Config) {
			c.Storage.Adapter = AdapterSQL
			c.Storage.SQL = sqlx.Config{Driver: sqlx.DriverPostgres}
		}, true},
		{"sql with unknown driver", func(c *Config) {
			c.Storage.Adapter = AdapterSQL
			c.Storage.SQL = sqlx.Config{Driver: "oracle", DSN: "x"}
		}, true},
		{"redis without addr", func(c *Config) {
			c.Storage.Adapter = AdapterRedis
			c.Storage.Redis.Addr = ""
		}, true},
		{"zero history window", func(c *Config) { c.Engine.HistoryWindow = 0 }, true},
		{"negative retries", func(c *Config) { c.Engine.CommitRetries = -1 }, true},
		{"rate limit without rpm", func(c *Config) {
			c.Security.EnableRateLimit = true
			c.Security.RateLimit.RequestsPerMinute = 0
		}, true},
		{"rate limit without cleanup interval", func(c *Config) {
			c.Security.EnableRateLimit = true
			c.Security.RateLimit.CleanupInterval = 0
		}, true},
		{"blank api key", func(c *Config) { c.Security.APIKeys = []string{" "} }, true},
		{"relative webhook url", func(c *Config) {
			c.Webhooks.URLs = []string{"/hook"}
			c.Webhooks.Timeout = time.Second
		}, true},
		{"unknown webhook type", func(c *Config) { c.Webhooks.Types = []string{"points_lost"} }, true},
		{"valid webhook", func(c *Config) {
			c.Webhooks.URLs = []string{"https://hooks.example.com/rewards"}
			c.Webhooks.Types = []string{"badge_awarded"}
			c.Webhooks.Timeout = time.Second
		}, false},
		{"zero analytics interval", func(c *Config) { c.Analytics.Interval = 0 }, true},
		{"analytics export without scheme", func(c *Config) { c.Analytics.ExportURL = "collector:9000" }, true},
		{"analytics export", func(c *Config) { c.Analytics.ExportURL = "https://collector.example.com/rollups" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		name         string
		profileName  string
		expectConfig bool
		environment  Environment
	}{
		{"development", "development", true, EnvDevelopment},
		{"testing", "testing", true, EnvTesting},
		{"staging", "staging", true, EnvStaging},
		{"production", "production", true, EnvProduction},
		{"unknown", "unknown", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadProfile(tt.profileName)
			if tt.expectConfig {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				assert.Equal(t, tt.environment, cfg.Environment)
			} else {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			}
		})
	}
}

func TestSecrets(t *testing.T) {
	store := NewEnvironmentSecretStore()

	testKey := "TEST_SECRET_KEY"
	testValue := "test_secret_value"
	t.Setenv(testKey, testValue)

	ctx := context.Background()

	value, err := store.Get(ctx, testKey)
	assert.NoError(t, err)
	assert.Equal(t, testValue, value)

	_, err = store.Get(ctx, "NONEXISTENT_KEY")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	defaultValue := "default"
	value = store.GetWithDefault(ctx, "NONEXISTENT_KEY", defaultValue)
	assert.Equal(t, defaultValue, value)

	value = store.GetWithDefault(ctx, testKey, defaultValue)
	assert.Equal(t, testValue, value)
}

func TestLoadSecretsFromEnv(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "dsn")
	require.NoError(t, os.WriteFile(secretFile, []byte("postgres://prod/rewards\n"), 0o600))
	t.Setenv("REWARDKIT_STORAGE_SQL_DSN_FILE", secretFile)
	t.Setenv("REWARDKIT_WEBHOOK_SECRET", "whsec")
	t.Setenv("REWARDKIT_SECURITY_API_KEYS", "k1, k2,")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadSecretsFromEnv(context.Background()))

	assert.Equal(t, "postgres://prod/rewards", cfg.Storage.SQL.DSN)
	assert.Equal(t, "whsec", cfg.Webhooks.Secret)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Security.APIKeys)
	assert.Empty(t, cfg.Storage.Redis.Password)

	redacted := cfg.String()
	assert.NotContains(t, redacted, "postgres://prod/rewards")
	assert.NotContains(t, redacted, "whsec")
}

func TestLoadSecrets_UnreadableFile(t *testing.T) {
	t.Setenv("REWARDKIT_WEBHOOK_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))
	err := DefaultConfig().LoadSecretsFromEnv(context.Background())
	assert.Error(t, err)
}

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "config.json")
	txtPath := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(txtPath, []byte("{}"), 0o600))

	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"valid json file", jsonPath, false},
		{"empty path", "", true},
		{"path traversal", "../../../etc/passwd", true},
		{"non-json file", txtPath, true},
		{"nonexistent file", filepath.Join(dir, "nonexistent.json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a secret is not set.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from environment variables. A
// KEY_FILE variable naming a file takes effect when KEY itself is unset.
type EnvironmentSecretStore struct {
	readFile func(string) ([]byte, error)
}

func NewEnvironmentSecretStore() *EnvironmentSecretStore {
	return &EnvironmentSecretStore{readFile: os.ReadFile}
}

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		data, err := s.readFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file for %s: %w", key, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadSecretsFromEnv fills credentials from the environment secret store.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}

// LoadSecrets fills credentials from store. Missing secrets keep the current
// value; unreadable secret files are errors.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	targets := []struct {
		key string
		dst *string
	}{
		{"REWARDKIT_STORAGE_SQL_DSN", &c.Storage.SQL.DSN},
		{"REWARDKIT_STORAGE_REDIS_PASSWORD", &c.Storage.Redis.Password},
		{"REWARDKIT_WEBHOOK_SECRET", &c.Webhooks.Secret},
	}
	for _, t := range targets {
		v, err := store.Get(ctx, t.key)
		switch {
		case errors.Is(err, ErrSecretNotFound):
			continue
		case err != nil:
			return err
		}
		*t.dst = v
	}

	keys, err := store.Get(ctx, "REWARDKIT_SECURITY_API_KEYS")
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return err
	}
	if keys != "" {
		var parsed []string
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				parsed = append(parsed, k)
			}
		}
		c.Security.APIKeys = parsed
	}
	return nil
}

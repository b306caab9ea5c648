package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// loadFromEnv overlays environment variables onto cfg. Unset variables keep
// the current value. Untagged fields of the embedded adapter configs are
// matched by field name under their envPrefix.
func loadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{UseFieldNameByDefault: true}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

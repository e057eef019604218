// Package config loads runtime settings from SPLITLOCK_-prefixed
// environment variables. CLI flags override these values.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `env:"SPLITLOCK_DB_PATH" envDefault:"./splitlock.db"`

	// ClaimTTL bounds how long a crashed in-flight claim stays stuck
	// before it becomes reclaimable. Keep it short.
	ClaimTTL time.Duration `env:"SPLITLOCK_CLAIM_TTL" envDefault:"5m"`

	// ResultTTL keeps completed results around to deduplicate slow
	// retries. Keep it long.
	ResultTTL time.Duration `env:"SPLITLOCK_RESULT_TTL" envDefault:"720h"`

	// SweepInterval is the period used by `sweep --daemon`.
	SweepInterval time.Duration `env:"SPLITLOCK_SWEEP_INTERVAL" envDefault:"5m"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"SPLITLOCK_LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

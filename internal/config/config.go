// Package config loads the enumerated configuration of spec §6 from
// environment variables, grounded on
// wisbric-nightowl/internal/config/config.go's caarlos0/env idiom.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every configuration value spec §6 enumerates.
type Config struct {
	ProvisionerID  string   `env:"PROVISIONER_ID,required"`
	KeyPrefix      string   `env:"KEY_PREFIX,required"`
	AllowedRegions []string `env:"ALLOWED_REGIONS,required" envSeparator:","`

	IterationIntervalMS int `env:"ITERATION_INTERVAL_MS" envDefault:"75000"`

	MaxInstanceLife time.Duration `env:"MAX_INSTANCE_LIFE" envDefault:"96h"`
	PublicKeyBody   string        `env:"PUBLIC_KEY_BODY,required"`

	StallTimeout    time.Duration `env:"STALL_TIMEOUT" envDefault:"20m"`
	InFlightTimeout time.Duration `env:"IN_FLIGHT_TIMEOUT" envDefault:"15m"`

	MaxIterationsForStateResolution int `env:"MAX_ITERATIONS_FOR_STATE_RESOLUTION" envDefault:"20"`

	PerCallTimeout time.Duration `env:"PER_CALL_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// IterationInterval returns the configured iteration interval as a
// time.Duration.
func (c *Config) IterationInterval() time.Duration {
	return time.Duration(c.IterationIntervalMS) * time.Millisecond
}

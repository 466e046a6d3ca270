// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Server struct {
	Host string `envconfig:"SCHEDQ_HOST" default:"0.0.0.0"`
	Port uint64 `envconfig:"SCHEDQ_PORT" default:"8321"`
}

type Store struct {
	Path string `envconfig:"SCHEDQ_STORE_PATH" default:"/tmp/schedq" validate:"required"`
}

type Queue struct {
	LeaseDuration time.Duration `envconfig:"SCHEDQ_LEASE_DURATION" default:"30s" validate:"gt=0"`
	SweepInterval time.Duration `envconfig:"SCHEDQ_SWEEP_INTERVAL" default:"1s" validate:"gt=0"`
	MaxAttempts   int           `envconfig:"SCHEDQ_MAX_ATTEMPTS" default:"3" validate:"gt=0"`
	BackoffBase   time.Duration `envconfig:"SCHEDQ_BACKOFF_BASE" default:"1s" validate:"gt=0"`
	BackoffMax    time.Duration `envconfig:"SCHEDQ_BACKOFF_MAX" default:"5m" validate:"gt=0"`
}

type Workers struct {
	Size         int           `envconfig:"SCHEDQ_WORKERS" default:"4" validate:"gte=0"`
	PollInterval time.Duration `envconfig:"SCHEDQ_POLL_INTERVAL" default:"100ms" validate:"gt=0"`
}

type Config struct {
	Server  Server
	Store   Store
	Queue   Queue
	Workers Workers
}

func (s Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads and validates the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	return &cfg, nil
}

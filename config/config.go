package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config carries all runtime settings for the aggregator service. Every value
// comes from the environment so the binary can run unchanged across
// deployments.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	// DatabaseURL selects the durable store. When empty the service falls
	// back to the in-memory store (dev and tests only).
	DatabaseURL string `env:"DATABASE_URL"`

	// NatsURL selects the queue. When empty submissions and partner quotes
	// are dispatched through the in-process queue.
	NatsURL string `env:"NATS_URL"`

	JWTSecret          string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	TurnstileSecretKey string `env:"TURNSTILE_SECRET_KEY"`

	TextGenURL    string `env:"TEXTGEN_URL"`
	TextGenAPIKey string `env:"TEXTGEN_API_KEY"`

	// ActivityTimeout is the inactivity window after which a stuck activity
	// is forced to failed.
	ActivityTimeout time.Duration `env:"ACTIVITY_TIMEOUT" envDefault:"24h"`

	// SweepInterval controls how often the timeout sweep runs.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`

	// Partner quote simulation latency bounds.
	PartnerMinLatency time.Duration `env:"PARTNER_MIN_LATENCY" envDefault:"1s"`
	PartnerMaxLatency time.Duration `env:"PARTNER_MAX_LATENCY" envDefault:"5s"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if cfg.PartnerMinLatency > cfg.PartnerMaxLatency {
		return Config{}, fmt.Errorf("config: partner latency bounds inverted")
	}
	return cfg, nil
}

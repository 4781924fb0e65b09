package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/valentines.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SPADir   string     `env:"SPA_DIR" envDefault:"../web/dist"`

	// RedisURL enables the Redis leaderboard. Empty ranks from memory.
	RedisURL string `env:"REDIS_URL"`

	ReadyThreshold     int           `env:"READY_THRESHOLD" envDefault:"1"`
	CompletedTTL       time.Duration `env:"COMPLETED_TTL" envDefault:"6h"`
	JanitorInterval    time.Duration `env:"JANITOR_INTERVAL" envDefault:"1m"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"600"`

	// AdminTokenHash is a bcrypt hash of the admin bearer token. Admin
	// routes are not mounted when it is empty.
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`

	WarmStart bool `env:"WARM_START" envDefault:"true"`
	SeedDemo  bool `env:"SEED_DEMO" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.ReadyThreshold < 1 {
		return nil, fmt.Errorf("READY_THRESHOLD must be at least 1, got %d", cfg.ReadyThreshold)
	}
	if cfg.JanitorInterval <= 0 {
		return nil, fmt.Errorf("JANITOR_INTERVAL must be positive, got %s", cfg.JanitorInterval)
	}
	return &cfg, nil
}

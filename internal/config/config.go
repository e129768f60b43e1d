// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Config holds every server setting
type Config struct {
	Addr string `env:"PLAYHUB_ADDR" envDefault:"0.0.0.0"`
	Port int    `env:"PLAYHUB_PORT" envDefault:"8080"`

	StorageType string `env:"STORAGE_TYPE" envDefault:"memory"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"playhub.db"`

	OfflineGrace    time.Duration `env:"OFFLINE_GRACE" envDefault:"5s"`
	IdleAfter       time.Duration `env:"IDLE_AFTER" envDefault:"5m"`
	OfferTTL        time.Duration `env:"OFFER_TTL" envDefault:"15m"`
	ChallengeTTL    time.Duration `env:"CHALLENGE_TTL" envDefault:"2m"`
	SessionDuration time.Duration `env:"SESSION_DURATION" envDefault:"24h"`

	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"10s"`
	ReadOnlyRetryAfter  time.Duration `env:"READ_ONLY_RETRY_AFTER" envDefault:"30s"`

	SupervisorUsername string `env:"SUPERVISOR_USERNAME"`
	SupervisorPassword string `env:"SUPERVISOR_PASSWORD"`

	DictionaryPath string `env:"DICTIONARY_PATH"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file and then parses the environment.
// Variables already set in the environment win over the file.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse()
}

// Parse reads configuration from environment variables only
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the tags cannot express
func (c *Config) Validate() error {
	switch c.StorageType {
	case StorageMemory, StorageRedis, StorageSQLite:
	default:
		return fmt.Errorf("invalid STORAGE_TYPE %q (want memory, redis or sqlite)", c.StorageType)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PLAYHUB_PORT %d", c.Port)
	}
	if c.OfflineGrace < 0 || c.IdleAfter <= 0 {
		return errors.New("OFFLINE_GRACE must be >= 0 and IDLE_AFTER > 0")
	}
	if c.OfferTTL <= 0 || c.ChallengeTTL <= 0 || c.SessionDuration <= 0 {
		return errors.New("OFFER_TTL, CHALLENGE_TTL and SESSION_DURATION must be positive")
	}
	if (c.SupervisorUsername == "") != (c.SupervisorPassword == "") {
		return errors.New("SUPERVISOR_USERNAME and SUPERVISOR_PASSWORD must be set together")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ListenAddr is the host:port the server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

// SlogLevel converts LOG_LEVEL to a slog level
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

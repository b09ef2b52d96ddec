package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Storage, cache and lock drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverLocal    = "local"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	PGDSN       string `envconfig:"PG_DSN"`
	PGMigrate   bool   `envconfig:"PG_MIGRATE" default:"true"`

	CacheDriver         string        `envconfig:"CACHE_DRIVER" default:"memory"`
	RedisAddr           string        `envconfig:"REDIS_ADDR"`
	PermissionCacheTTL  time.Duration `envconfig:"PERMISSION_CACHE_TTL" default:"5m"`
	PermissionCacheSize int           `envconfig:"PERMISSION_CACHE_SIZE" default:"10000"`

	LockDriver string        `envconfig:"LOCK_DRIVER" default:"local"`
	LockTTL    time.Duration `envconfig:"LOCK_TTL" default:"10s"`

	AnalyticsCacheTTL time.Duration `envconfig:"ANALYTICS_CACHE_TTL" default:"1m"`

	AuthUserHeader     string `envconfig:"AUTH_USER_HEADER" default:"X-User-ID"`
	RateLimitPerMinute int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`

	WarmupOnRoleUpdate bool `envconfig:"WARMUP_ON_ROLE_UPDATE" default:"false"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown drivers and drivers missing their backend address.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.PGDSN == "" {
			return errors.New("PG_DSN must be provided when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.CacheDriver {
	case DriverMemory, DriverRedis:
	default:
		return fmt.Errorf("unknown CACHE_DRIVER %q", c.CacheDriver)
	}
	switch c.LockDriver {
	case DriverLocal, DriverRedis:
	default:
		return fmt.Errorf("unknown LOCK_DRIVER %q", c.LockDriver)
	}
	if (c.CacheDriver == DriverRedis || c.LockDriver == DriverRedis || c.WarmupOnRoleUpdate) && c.RedisAddr == "" {
		return errors.New("REDIS_ADDR must be provided for redis drivers and role warmup")
	}
	if c.PermissionCacheSize <= 0 {
		return errors.New("PERMISSION_CACHE_SIZE must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.AuthUserHeader == "" {
		return errors.New("AUTH_USER_HEADER must not be empty")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

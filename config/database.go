package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"migration"`
	Password string `env:"PASSWORD" envDefault:"migration"`
	Name     string `env:"NAME"     envDefault:"migration"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies schema migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
// Redis backs the progress snapshot cache and the pub/sub progress topics.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}

// CacheConfig contains progress cache configuration (Redis-based).
type CacheConfig struct {
	// ProgressTTL is the TTL for cached progress snapshots. Short on purpose:
	// snapshots go stale by at most this much under heavy polling, and expiry
	// is the only invalidation mechanism.
	ProgressTTL time.Duration `env:"CACHE_PROGRESS_TTL" envDefault:"5s"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.ProgressTTL < time.Second {
		c.ProgressTTL = time.Second
	}
	if c.ProgressTTL > time.Minute {
		c.ProgressTTL = time.Minute
	}
}

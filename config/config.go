package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and cache configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode, importer, broadcaster, and watchdog configuration
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, relaxed limits).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	// HTTP server configuration
	HTTP HTTPConfig

	// Services is a comma-delimited list of enabled services.
	// Valid values: http, importer, broadcaster, watchdog
	Services string `env:"SERVICES" envDefault:"http,importer,broadcaster,watchdog"`

	// Upload configuration (file intake limits and storage directory)
	Upload UploadConfig

	// Importer configuration
	Importer ImporterConfig

	// Broadcaster configuration
	Broadcaster BroadcasterConfig

	// Watchdog configuration
	Watchdog WatchdogConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Upload.Sanitize()
	c.Importer.Sanitize()
	c.Broadcaster.Sanitize()
	c.Watchdog.Sanitize()
	c.Cache.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP API service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	return c.serviceEnabled(ServiceModeHTTP)
}

// IsImporterEnabled returns true if the batch importer service is enabled.
func (c *AppConfig) IsImporterEnabled() bool {
	return c.serviceEnabled(ServiceModeImporter)
}

// IsBroadcasterEnabled returns true if the progress broadcaster service is enabled.
func (c *AppConfig) IsBroadcasterEnabled() bool {
	return c.serviceEnabled(ServiceModeBroadcaster)
}

// IsWatchdogEnabled returns true if the stuck-job watchdog service is enabled.
func (c *AppConfig) IsWatchdogEnabled() bool {
	return c.serviceEnabled(ServiceModeWatchdog)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

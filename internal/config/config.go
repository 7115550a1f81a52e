// Package config defines the configuration structure for the billingsync
// service. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles.
//
// Values are resolved from the OS environment, with an optional dotenv file
// for local development. Any missing required value or invalid format causes
// startup to fail immediately (fail fast).
package config

import (
	"time"

	"billingsync/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Stripe   StripeConfig
	Catalog  CatalogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// StripeConfig holds payment provider credentials.
type StripeConfig struct {
	SecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// BaseURL overrides the Stripe API endpoint; used in tests. Empty means
	// the production endpoint.
	BaseURL string `envconfig:"STRIPE_API_BASE_URL"`
}

// CatalogConfig holds plan catalog refresh settings.
type CatalogConfig struct {
	// SyncInterval is how often the background catalog sync runs. Zero
	// disables periodic syncing; webhook events still trigger passes.
	SyncInterval time.Duration `envconfig:"CATALOG_SYNC_INTERVAL" default:"6h"`
}

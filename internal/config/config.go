// Package config defines the global configuration structure for the LinkedAI
// publication engine. Configuration is loaded once at process initialization
// (Lambda cold start or API startup) and is immutable thereafter. It follows
// 12-Factor principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"linkedai/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the publication engine.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"linkedai-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Queue    QueueConfig
	Billing  BillingConfig
	Email    EmailConfig
	LinkedIn LinkedInConfig
	Security SecurityConfig
}

// ServerConfig holds HTTP server configuration for cmd/api.
type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`

	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"LinkedAI"`
}

// QueueConfig holds publish queue URLs and tuning parameters.
type QueueConfig struct {
	// PublishQueueURL is the SQS queue carrying ready publish jobs to the
	// publish worker.
	PublishQueueURL string `envconfig:"SQS_PUBLISH_QUEUE" validate:"required,url"`

	// SweepPromoteLimit caps delayed jobs promoted per sweep invocation.
	SweepPromoteLimit int `envconfig:"SWEEP_PROMOTE_LIMIT" default:"100"`
	// SweepDrainLimit caps ready jobs executed synchronously per sweep.
	SweepDrainLimit int `envconfig:"SWEEP_DRAIN_LIMIT" default:"10"`
}

// BillingConfig holds Stripe payment integration credentials.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"billing@linkedai.app"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"LinkedAI"`
}

// LinkedInConfig holds the publish API client settings.
type LinkedInConfig struct {
	APIBaseURL string        `envconfig:"LINKEDIN_API_BASE" default:"https://api.linkedin.com"`
	Timeout    time.Duration `envconfig:"LINKEDIN_TIMEOUT" default:"15s"`
	UserAgent  string        `envconfig:"LINKEDIN_USER_AGENT" default:"LinkedAI/1.0"`
}

// SecurityConfig holds the shared secret protecting internal trigger
// endpoints (run-sweep-now, run-cycle-now).
type SecurityConfig struct {
	InternalToken SecretString `envconfig:"INTERNAL_TRIGGER_TOKEN" validate:"required,min=16"`
}

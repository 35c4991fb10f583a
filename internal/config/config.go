// Package config loads the beach monitor configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/Akwatiro/beach-monitor-spain/internal/beachapi"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
	"github.com/Akwatiro/beach-monitor-spain/internal/resolver"
)

// Config holds the application configuration.
type Config struct {
	// BeachAPIURL is the base URL of the beach backend.
	BeachAPIURL string `envconfig:"BEACH_API_URL" default:"http://localhost:8000/api" validate:"required,url"`

	Port      int    `envconfig:"APP_PORT" default:"8080" validate:"gte=1,lte=65535"`
	Env       string `envconfig:"APP_ENV" default:"development"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json console"`

	RequestTimeout       time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	RetryMax             int           `envconfig:"RETRY_MAX" default:"3" validate:"gte=0,lte=10"`
	RetryInitialInterval time.Duration `envconfig:"RETRY_INITIAL_INTERVAL" default:"1s"`
	RetryMaxInterval     time.Duration `envconfig:"RETRY_MAX_INTERVAL" default:"30s"`

	ResolverProvinceMin int `envconfig:"RESOLVER_PROVINCE_MIN" default:"1" validate:"gte=1"`
	ResolverProvinceMax int `envconfig:"RESOLVER_PROVINCE_MAX" default:"10" validate:"gte=1"`
	ResolverConcurrency int `envconfig:"RESOLVER_CONCURRENCY" default:"1" validate:"gte=1"`

	// ViewLeaseTTL is the idle time after which a remotely viewed key is unsubscribed.
	ViewLeaseTTL time.Duration `envconfig:"VIEW_LEASE_TTL" default:"10m"`
	// ViewMaxLeasesPerKind caps remotely viewed keys of one kind.
	ViewMaxLeasesPerKind int `envconfig:"VIEW_MAX_LEASES_PER_KIND" default:"200" validate:"gte=0"`

	RequireTLS bool `envconfig:"REQUIRE_TLS" default:"false"`

	OTelEnabled     bool    `envconfig:"OTEL_ENABLED" default:"false"`
	OTLPEndpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	OTLPSecure      bool    `envconfig:"OTEL_EXPORTER_OTLP_SECURE" default:"false"`
	OTelSampleRatio float64 `envconfig:"OTEL_TRACES_SAMPLER_RATIO" default:"1" validate:"gte=0,lte=1"`

	// The Pub/Sub refresh trigger is disabled unless both are set.
	PubSubProjectID    string `envconfig:"PUBSUB_PROJECT_ID"`
	PubSubSubscription string `envconfig:"PUBSUB_SUBSCRIPTION"`
}

// Load reads envFile into the environment, when it exists, then processes and
// validates the configuration. Variables already set take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	u, err := url.Parse(c.BeachAPIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("BEACH_API_URL must be an absolute http:// or https:// URL")
	}
	if c.ResolverProvinceMin > c.ResolverProvinceMax {
		return fmt.Errorf("RESOLVER_PROVINCE_MIN (%d) cannot exceed RESOLVER_PROVINCE_MAX (%d)",
			c.ResolverProvinceMin, c.ResolverProvinceMax)
	}
	for name, d := range map[string]time.Duration{
		"REQUEST_TIMEOUT":        c.RequestTimeout,
		"RETRY_INITIAL_INTERVAL": c.RetryInitialInterval,
		"RETRY_MAX_INTERVAL":     c.RetryMaxInterval,
		"VIEW_LEASE_TTL":         c.ViewLeaseTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.RetryInitialInterval > c.RetryMaxInterval {
		return errors.New("RETRY_INITIAL_INTERVAL cannot exceed RETRY_MAX_INTERVAL")
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// PubSubEnabled reports whether the refresh trigger is configured.
func (c *Config) PubSubEnabled() bool {
	return c.PubSubProjectID != "" && c.PubSubSubscription != ""
}

// Retry returns the poller retry policy. Only transient backend failures are retried.
func (c *Config) Retry() *query.RetryConfig {
	return &query.RetryConfig{
		MaxRetries:      uint64(c.RetryMax),
		InitialInterval: c.RetryInitialInterval,
		MaxInterval:     c.RetryMaxInterval,
		Retryable:       beachapi.IsRetryable,
	}
}

// ProvinceIDs returns the province range scanned by the beach resolver.
func (c *Config) ProvinceIDs() []int {
	return resolver.ProvinceRange(c.ResolverProvinceMin, c.ResolverProvinceMax)
}

// Level returns the zerolog level named by LOG_LEVEL.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

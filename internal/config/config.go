// Package config defines the process configuration for the FarmConnect binaries.
//
// Configuration is loaded once at startup and passed explicitly to the
// components that need it. Values are resolved in priority order:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format stops the process at startup.
package config

import (
	"time"

	"farmconnect/internal/types"
)

// SecretString is an alias for types.SecretString so secret fields never leak
// through logs or JSON dumps of the config.
type SecretString = types.SecretString

// Config is the top-level configuration shared by cmd/api, cmd/scraper and
// cmd/scraper-lambda. Each binary hands sub-structs to the components it wires.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"farmconnect"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Scraper       ScraperConfig
	Weather       WeatherConfig
	Advisory      AdvisoryConfig
	Market        MarketConfig
	Retention     RetentionConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds the read API listener settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`
	// Per-client token bucket for the read API. Zero RPS disables limiting.
	RateLimitRPS   float64 `envconfig:"API_RATE_LIMIT_RPS" default:"20" validate:"min=0"`
	RateLimitBurst int     `envconfig:"API_RATE_LIMIT_BURST" default:"40" validate:"min=1"`
}

// DatabaseConfig holds the PostgreSQL DSN and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds the region used for SSM and CloudWatch.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"af-south-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ScraperConfig controls the market price scrape cycle.
type ScraperConfig struct {
	TargetURL    string        `envconfig:"TARGET_URL" default:"https://amtrends.co.za/market-pricesv2/" validate:"required,url"`
	UserAgent    string        `envconfig:"SCRAPER_USER_AGENT" default:"FarmConnectScraper/1.0" validate:"required"`
	FetchTimeout time.Duration `envconfig:"SCRAPER_FETCH_TIMEOUT" default:"20s" validate:"gt=0"`
	Interval     time.Duration `envconfig:"SCRAPE_INTERVAL" default:"10s" validate:"gt=0"`
	CycleTimeout time.Duration `envconfig:"SCRAPE_CYCLE_TIMEOUT" default:"45s" validate:"gt=0"`
	Region       string        `envconfig:"MARKET_REGION" default:"South Africa" validate:"required"`
}

// WeatherConfig configures the weatherapi.com forecast client and its cache.
type WeatherConfig struct {
	APIKey            SecretString  `envconfig:"WEATHER_API_KEY"`
	BaseURL           string        `envconfig:"WEATHER_BASE_URL" default:"https://api.weatherapi.com/v1" validate:"required,url"`
	DefaultDays       int           `envconfig:"WEATHER_DEFAULT_DAYS" default:"7" validate:"min=1,max=14"`
	CacheTTL          time.Duration `envconfig:"FORECAST_CACHE_TTL" default:"30m"`
	RequestsPerSecond float64       `envconfig:"WEATHER_RPS" default:"5" validate:"gt=0"`
	Timeout           time.Duration `envconfig:"WEATHER_TIMEOUT" default:"10s"`
}

// AdvisoryConfig points the engine at an optional replacement tip library.
type AdvisoryConfig struct {
	TipLibraryPath string `envconfig:"TIP_LIBRARY_PATH"`
	GeneralTips    int    `envconfig:"GENERAL_TIPS_PER_DAY" default:"3" validate:"min=0"`
}

// MarketConfig holds settings for the price feed read path.
type MarketConfig struct {
	PollInterval time.Duration `envconfig:"MARKET_POLL_INTERVAL" default:"30s" validate:"gt=0"`
}

// RetentionConfig bounds the forecast_cache and scrape_runs tables.
type RetentionConfig struct {
	SweepInterval time.Duration `envconfig:"RETENTION_SWEEP_INTERVAL" default:"1h" validate:"gt=0"`
	ForecastCache time.Duration `envconfig:"FORECAST_CACHE_RETENTION" default:"24h" validate:"gt=0"`
	ScrapeRuns    time.Duration `envconfig:"SCRAPE_RUN_RETENTION" default:"168h" validate:"gt=0"`
}

// ObservabilityConfig selects the metrics backend.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"FarmConnect"`
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	// MetricsAddr is where cmd/scraper serves /metrics for the prometheus
	// backend. cmd/api serves it on its own listener.
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Linker-injected build metadata, for example:
//
//	go build -ldflags "-X farmconnect/internal/config.version=1.2.3 \
//	    -X farmconnect/internal/config.commit=$(git rev-parse --short HEAD)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// IsLocal reports whether the process runs in the local environment.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

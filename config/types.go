package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jonwraymond/flowguard/cache"
	"github.com/jonwraymond/flowguard/observe"
	"github.com/jonwraymond/flowguard/resilience"
)

// Config is the full runtime configuration.
type Config struct {
	Service   ServiceConfig             `koanf:"service"`
	Server    ServerConfig              `koanf:"server"`
	Logging   LoggingConfig             `koanf:"logging"`
	Telemetry TelemetryConfig           `koanf:"telemetry"`
	Cache     CacheConfig               `koanf:"cache"`
	Providers map[string]ProviderConfig `koanf:"providers"`
}

// ServiceConfig identifies the process in telemetry.
type ServiceConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// ServerConfig configures the health and metrics listener.
type ServerConfig struct {
	Address string `koanf:"address"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	Tracing TracingConfig `koanf:"tracing"`
	Metrics MetricsConfig `koanf:"metrics"`
}

type TracingConfig struct {
	Enabled   bool    `koanf:"enabled"`
	Exporter  string  `koanf:"exporter"`
	SamplePct float64 `koanf:"samplePct"`
}

type MetricsConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Exporter string `koanf:"exporter"`
}

// CacheConfig selects and configures the result cache backend.
type CacheConfig struct {
	Backend       string        `koanf:"backend"`
	Dir           string        `koanf:"dir"`
	DSN           string        `koanf:"dsn"`
	Table         string        `koanf:"table"`
	DefaultTTL    time.Duration `koanf:"defaultTTL"`
	MaxTTL        time.Duration `koanf:"maxTTL"`
	SweepInterval time.Duration `koanf:"sweepInterval"`
	Valkey        ValkeyConfig  `koanf:"valkey"`
}

type ValkeyConfig struct {
	Address  string `koanf:"address"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// ProviderConfig describes one upstream and the resilience applied to it.
type ProviderConfig struct {
	BaseURL        string            `koanf:"baseURL"`
	Path           string            `koanf:"path"`
	APIKey         string            `koanf:"apiKey"`
	AuthHeader     string            `koanf:"authHeader"`
	AuthScheme     string            `koanf:"authScheme"`
	Headers        map[string]string `koanf:"headers"`
	RateLimit      RateLimitConfig   `koanf:"rateLimit"`
	Retry          RetryConfig       `koanf:"retry"`
	CacheTTL       time.Duration     `koanf:"cacheTTL"`
	AttemptTimeout time.Duration     `koanf:"attemptTimeout"`
}

// RateLimitConfig allows Rate calls per Period. Callers queue for a slot
// for up to MaxWait (zero waits indefinitely) unless FailFast is set.
type RateLimitConfig struct {
	Rate     int           `koanf:"rate"`
	Period   time.Duration `koanf:"period"`
	FailFast bool          `koanf:"failFast"`
	MaxWait  time.Duration `koanf:"maxWait"`
}

// RetryConfig configures retries of transient failures. A nil MaxRetries
// uses resilience.DefaultMaxRetries; zero makes a single attempt.
type RetryConfig struct {
	MaxRetries *int          `koanf:"maxRetries"`
	BaseDelay  time.Duration `koanf:"baseDelay"`
	MaxDelay   time.Duration `koanf:"maxDelay"`
	Strategy   string        `koanf:"strategy"`
	Jitter     bool          `koanf:"jitter"`
}

// DefaultConfig returns the baseline every source overrides.
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{Name: "flowguard", Version: "dev"},
		Server:  ServerConfig{Address: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{Exporter: "none", SamplePct: 1},
			Metrics: MetricsConfig{Enabled: true, Exporter: "prometheus"},
		},
		Cache: CacheConfig{
			Backend:       "memory",
			Table:         "cache_entries",
			DefaultTTL:    time.Hour,
			MaxTTL:        24 * time.Hour,
			SweepInterval: 5 * time.Minute,
			Valkey:        ValkeyConfig{Prefix: "flowguard:"},
		},
	}
}

var (
	// ErrInvalidBackend indicates an unknown cache backend.
	ErrInvalidBackend = errors.New("config: invalid cache backend")

	// ErrInvalidProvider indicates a provider entry failed validation.
	ErrInvalidProvider = errors.New("config: invalid provider")

	providerName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// Validate checks cross-field constraints and returns every problem found.
func (c Config) Validate() error {
	var errs []error

	switch c.Cache.Backend {
	case "memory":
	case "file":
		if strings.TrimSpace(c.Cache.Dir) == "" {
			errs = append(errs, fmt.Errorf("%w: file backend requires cache.dir", ErrInvalidBackend))
		}
	case "sqlite":
		if strings.TrimSpace(c.Cache.DSN) == "" {
			errs = append(errs, fmt.Errorf("%w: sqlite backend requires cache.dsn", ErrInvalidBackend))
		}
	case "valkey":
		if strings.TrimSpace(c.Cache.Valkey.Address) == "" {
			errs = append(errs, fmt.Errorf("%w: valkey backend requires cache.valkey.address", ErrInvalidBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidBackend, c.Cache.Backend))
	}
	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		errs = append(errs, fmt.Errorf("config: cache.defaultTTL %s exceeds cache.maxTTL %s", c.Cache.DefaultTTL, c.Cache.MaxTTL))
	}

	for name, p := range c.Providers {
		if !providerName.MatchString(name) {
			errs = append(errs, fmt.Errorf("%w: name %q must be lowercase", ErrInvalidProvider, name))
		}
		if p.RateLimit.Rate < 0 || p.RateLimit.Period < 0 {
			errs = append(errs, fmt.Errorf("%w: %s: rate limit must not be negative", ErrInvalidProvider, name))
		}
		if p.Retry.MaxRetries != nil && *p.Retry.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%w: %s: retry.maxRetries must not be negative", ErrInvalidProvider, name))
		}
		if _, err := parseStrategy(p.Retry.Strategy); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidProvider, name, err))
		}
	}

	return errors.Join(errs...)
}

// Policy returns the cache TTL policy.
func (c CacheConfig) Policy() cache.Policy {
	return cache.Policy{DefaultTTL: c.DefaultTTL, MaxTTL: c.MaxTTL}
}

// Observe returns the observer configuration.
func (c Config) Observe() observe.Config {
	return observe.Config{
		ServiceName: c.Service.Name,
		Version:     c.Service.Version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Telemetry.Tracing.Enabled,
			Exporter:  c.Telemetry.Tracing.Exporter,
			SamplePct: c.Telemetry.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Telemetry.Metrics.Enabled,
			Exporter: c.Telemetry.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.Logging.Level,
			Format:  c.Logging.Format,
		},
	}
}

// Limiter returns the rate limiter configuration, or false when the
// provider is unlimited.
func (p ProviderConfig) Limiter() (resilience.RateLimiterConfig, bool) {
	if p.RateLimit.Rate == 0 {
		return resilience.RateLimiterConfig{}, false
	}
	return resilience.RateLimiterConfig{
		Rate:     p.RateLimit.Rate,
		Period:   p.RateLimit.Period,
		FailFast: p.RateLimit.FailFast,
		MaxWait:  p.RateLimit.MaxWait,
	}, true
}

// RetryPolicy returns the retry configuration.
func (p ProviderConfig) RetryPolicy() resilience.RetryConfig {
	strategy, _ := parseStrategy(p.Retry.Strategy)
	retries := resilience.DefaultMaxRetries
	if p.Retry.MaxRetries != nil {
		retries = *p.Retry.MaxRetries
	}
	return resilience.RetryConfig{
		MaxRetries: retries,
		BaseDelay:  p.Retry.BaseDelay,
		MaxDelay:   p.Retry.MaxDelay,
		Strategy:   strategy,
		Jitter:     p.Retry.Jitter,
	}
}

func parseStrategy(s string) (resilience.BackoffStrategy, error) {
	switch strings.ToLower(s) {
	case "", "linear":
		return resilience.BackoffLinear, nil
	case "exponential":
		return resilience.BackoffExponential, nil
	case "constant":
		return resilience.BackoffConstant, nil
	default:
		return 0, fmt.Errorf("unknown retry strategy %q", s)
	}
}

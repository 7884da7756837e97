// Package config loads and validates runtime configuration for the gateway.
//
// Configuration is read from environment variables, with an optional .env file
// in the working directory loaded first. Every key has an explicit default
// except DOWNSTREAM_URL and JWT_SECRET, which are required.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// ServerAddr is the listen address of the HTTP server. Default ":8080".
	ServerAddr string

	// DownstreamURL is the base URL of the single origin the gateway fronts.
	DownstreamURL string

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	JWT       JWT
	RateLimit RateLimit
	Cache     Cache
	Redis     Redis
	Tracing   Tracing
}

// JWT holds bearer-token validation settings.
type JWT struct {
	// Secret is the shared HMAC signing secret. Required.
	Secret string

	// Algorithm is the expected signing algorithm. HS256, HS384 or HS512.
	Algorithm string

	// Audience is the expected aud claim. Empty disables the check.
	Audience string

	// Issuer is the expected iss claim. Empty disables the check.
	Issuer string
}

// RateLimit holds token-bucket limiter settings.
type RateLimit struct {
	// Enabled installs the limiter middleware when true.
	Enabled bool

	// PerMinute is the bucket capacity (max tokens).
	PerMinute int

	// WindowSeconds is the refill window; the refill rate is
	// PerMinute / WindowSeconds tokens per second.
	WindowSeconds int
}

// Cache holds response-cache settings.
type Cache struct {
	// Enabled turns cache lookup and store on.
	Enabled bool

	// TTLSeconds is the lifetime of a cached response.
	TTLSeconds int
}

// TTL returns the configured entry lifetime as a duration.
func (c Cache) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

// Redis holds shared KV store connection settings.
type Redis struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// Addr returns the host:port dial address.
func (r Redis) Addr() string { return net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) }

// Tracing holds OpenTelemetry export settings.
type Tracing struct {
	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables export.
	OTLPEndpoint string

	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64
}

// Load reads configuration from the environment (and .env when present).
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TTL", 300)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("TRACING_OTLP_ENDPOINT", "")
	v.SetDefault("TRACING_SAMPLE_RATE", 1.0)

	cfg := &Config{
		ServerAddr:    v.GetString("SERVER_ADDR"),
		DownstreamURL: v.GetString("DOWNSTREAM_URL"),
		LogLevel:      v.GetString("LOG_LEVEL"),

		JWT: JWT{
			Secret:    v.GetString("JWT_SECRET"),
			Algorithm: v.GetString("JWT_ALGORITHM"),
			Audience:  v.GetString("JWT_AUDIENCE"),
			Issuer:    v.GetString("JWT_ISSUER"),
		},

		RateLimit: RateLimit{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			PerMinute:     v.GetInt("RATE_LIMIT_PER_MINUTE"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},

		Cache: Cache{
			Enabled:    v.GetBool("CACHE_ENABLED"),
			TTLSeconds: v.GetInt("CACHE_TTL"),
		},

		Redis: Redis{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			DB:       v.GetInt("REDIS_DB"),
			Password: v.GetString("REDIS_PASSWORD"),
		},

		Tracing: Tracing{
			OTLPEndpoint: v.GetString("TRACING_OTLP_ENDPOINT"),
			SampleRate:   v.GetFloat64("TRACING_SAMPLE_RATE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks the semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.DownstreamURL == "" {
		return errors.New("config: DOWNSTREAM_URL is required")
	}
	u, err := url.Parse(c.DownstreamURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: DOWNSTREAM_URL %q is not an absolute http(s) URL", c.DownstreamURL)
	}

	if c.JWT.Secret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	switch c.JWT.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("config: JWT_ALGORITHM %q is not a supported HMAC algorithm", c.JWT.Algorithm)
	}

	if c.RateLimit.PerMinute < 0 {
		return fmt.Errorf("config: RATE_LIMIT_PER_MINUTE must be >= 0, got %d", c.RateLimit.PerMinute)
	}
	if c.RateLimit.WindowSeconds < 1 {
		return fmt.Errorf("config: RATE_LIMIT_WINDOW_SECONDS must be >= 1, got %d", c.RateLimit.WindowSeconds)
	}
	if c.Cache.TTLSeconds < 1 {
		return fmt.Errorf("config: CACHE_TTL must be >= 1, got %d", c.Cache.TTLSeconds)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("config: TRACING_SAMPLE_RATE must be in [0, 1], got %g", c.Tracing.SampleRate)
	}
	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

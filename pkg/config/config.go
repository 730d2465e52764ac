// Package config loads client settings from defaults, an optional YAML file
// and O365_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/o365-graph-client/pkg/auth"
	"github.com/Sternrassler/o365-graph-client/pkg/client"
	"github.com/Sternrassler/o365-graph-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "O365_"

// MaxBatchSize is the largest $batch the API accepts.
const MaxBatchSize = 20

// SecretKeys lists config keys whose values must never be logged.
var SecretKeys = []string{"token", "password"}

// Config is the complete client configuration.
type Config struct {
	APIRoot   string          `yaml:"api_root"`
	UserAgent string          `yaml:"user_agent"`
	BatchSize int             `yaml:"batch_size"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ThrottleConfig maps onto client.ThrottlePolicy.
type ThrottleConfig struct {
	DefaultDelay time.Duration `yaml:"default_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// RateLimitConfig configures the client-side pacer. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RedisConfig configures the shared throttle cooldown. An empty Addr disables it.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// HTTPConfig configures the underlying HTTP client.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig holds a pre-acquired bearer token.
type AuthConfig struct {
	Token string `yaml:"token"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIRoot:   client.DefaultAPIRoot,
		UserAgent: "o365-graph-client/1.0",
		BatchSize: MaxBatchSize,
		Throttle: ThrottleConfig{
			DefaultDelay: client.DefaultRetryAfter,
		},
		RateLimit: RateLimitConfig{
			Burst: 1,
		},
		Redis: RedisConfig{
			Namespace: "default",
		},
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads defaults, then path (when non-empty), then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from O365_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("API_ROOT", &c.APIRoot)
	str("USER_AGENT", &c.UserAgent)
	num("BATCH_SIZE", &c.BatchSize)
	dur("THROTTLE_DEFAULT_DELAY", &c.Throttle.DefaultDelay)
	dur("THROTTLE_MAX_DELAY", &c.Throttle.MaxDelay)
	num("THROTTLE_MAX_ATTEMPTS", &c.Throttle.MaxAttempts)
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT_RPS"); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT_RPS: %w", EnvPrefix, err))
		} else {
			c.RateLimit.RPS = rps
		}
	}
	num("RATE_LIMIT_BURST", &c.RateLimit.Burst)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	str("REDIS_NAMESPACE", &c.Redis.Namespace)
	str("LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup(EnvPrefix + "LOG_PRETTY"); ok && v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_PRETTY: %w", EnvPrefix, err))
		} else {
			c.Log.Pretty = pretty
		}
	}
	dur("HTTP_TIMEOUT", &c.HTTP.Timeout)
	str("TOKEN", &c.Auth.Token)
	str("METRICS_ADDR", &c.Metrics.Addr)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks the configuration for values the client cannot use.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIRoot)
	if c.APIRoot == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_root must be an absolute URL (got %q)", c.APIRoot)
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch_size must be between 1 and %d (got %d)", MaxBatchSize, c.BatchSize)
	}
	if c.Throttle.DefaultDelay <= 0 {
		return fmt.Errorf("throttle.default_delay must be > 0 (got %s)", c.Throttle.DefaultDelay)
	}
	if c.Throttle.MaxDelay < 0 {
		return fmt.Errorf("throttle.max_delay must be >= 0 (got %s)", c.Throttle.MaxDelay)
	}
	if c.Throttle.MaxAttempts < 0 {
		return fmt.Errorf("throttle.max_attempts must be >= 0 (got %d)", c.Throttle.MaxAttempts)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0 (got %v)", c.RateLimit.RPS)
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must be >= 0 (got %s)", c.HTTP.Timeout)
	}
	return nil
}

// Fields returns the configuration as a nested map for structured logging.
// Pass the result through logging.FilterSecrets with SecretKeys.
func (c *Config) Fields() map[string]any {
	data, err := yaml.Marshal(c)
	if err != nil {
		return map[string]any{}
	}
	fields := map[string]any{}
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return map[string]any{}
	}
	return fields
}

// ThrottlePolicy converts the throttle section.
func (c *Config) ThrottlePolicy() client.ThrottlePolicy {
	return client.ThrottlePolicy{
		DefaultDelay: c.Throttle.DefaultDelay,
		MaxDelay:     c.Throttle.MaxDelay,
		MaxAttempts:  c.Throttle.MaxAttempts,
	}
}

// RedisOptions returns connection options, or nil when no Redis is configured.
func (c *Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// ClientConfig builds a session configuration. The shared cooldown is left
// to the caller, which owns the Redis connection.
func (c *Config) ClientConfig(tokens auth.TokenSupplier) client.Config {
	cfg := client.DefaultConfig(tokens)
	cfg.APIRoot = c.APIRoot
	cfg.UserAgent = c.UserAgent
	cfg.Throttle = c.ThrottlePolicy()
	if c.HTTP.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: c.HTTP.Timeout}
	}
	if c.RateLimit.RPS > 0 {
		cfg.Limiter = ratelimit.NewPacer(c.RateLimit.RPS, c.RateLimit.Burst)
	}
	return cfg
}

// Tokens returns the configured static token supplier, or nil when unset.
func (c *Config) Tokens() auth.TokenSupplier {
	if c.Auth.Token == "" {
		return nil
	}
	return auth.StaticToken(c.Auth.Token)
}

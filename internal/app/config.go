package app

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Session storage backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
	SessionBackendSQLite = "sqlite"
)

// Config holds runtime configuration for the console.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	AuthBaseURL string `envconfig:"AUTH_BASE_URL" default:"http://127.0.0.1:8081"`
	APIBaseURL  string `envconfig:"API_BASE_URL" default:"http://127.0.0.1:8090"`

	SessionBackend    string        `envconfig:"SESSION_BACKEND" default:"memory"`
	SessionKeyPrefix  string        `envconfig:"SESSION_KEY_PREFIX" default:""`
	SessionSQLitePath string        `envconfig:"SESSION_SQLITE_PATH" default:"supplyline-session.db"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"0"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	ProfileRefreshInterval time.Duration `envconfig:"PROFILE_REFRESH_INTERVAL" default:"5m"`
	RateLimitPerMinute     int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
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

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendRedis, SessionBackendSQLite:
	default:
		return fmt.Errorf("app: unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	for name, raw := range map[string]string{"AUTH_BASE_URL": c.AuthBaseURL, "API_BASE_URL": c.APIBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("app: %s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("app: RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

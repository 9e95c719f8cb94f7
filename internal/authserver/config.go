package authserver

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the development auth backend.
type Config struct {
	Addr            string        `envconfig:"AUTH_ADDR" default:":8081"`
	JWTSecret       string        `envconfig:"AUTH_JWT_SECRET" required:"true"`
	TokenTTL        time.Duration `envconfig:"AUTH_TOKEN_TTL" default:"24h"`
	VerificationTTL time.Duration `envconfig:"AUTH_VERIFICATION_TTL" default:"30m"`
	LoginPerMinute  int           `envconfig:"AUTH_LOGIN_PER_MINUTE" default:"10"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	BootstrapAdminEmail    string `envconfig:"AUTH_BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `envconfig:"AUTH_BOOTSTRAP_ADMIN_PASSWORD"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

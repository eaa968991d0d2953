package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the portal.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"30s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	BackendURL            string        `envconfig:"BACKEND_URL" default:"http://127.0.0.1:8000/api/v1"`
	BackendTimeout        time.Duration `envconfig:"BACKEND_TIMEOUT" default:"15s"`
	BackendBreakerTimeout time.Duration `envconfig:"BACKEND_BREAKER_TIMEOUT" default:"30s"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SessionCookie string        `envconfig:"SESSION_COOKIE" default:"famis_session"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	CSRFSecret    string        `envconfig:"CSRF_SECRET" required:"true"`

	// IdentityRevalidateInterval re-fetches the signed-in user after this long; zero disables it.
	IdentityRevalidateInterval time.Duration `envconfig:"IDENTITY_REVALIDATE_INTERVAL" default:"0s"`

	RateLimit      int `envconfig:"RATE_LIMIT" default:"120"`
	LoginRateLimit int `envconfig:"LOGIN_RATE_LIMIT" default:"10"`
	// GuardRetryAfter is the refresh delay in seconds of the "checking authentication" page.
	GuardRetryAfter int `envconfig:"GUARD_RETRY_AFTER" default:"2"`

	// Locations is the site list offered to users without assigned locations.
	Locations []string `envconfig:"LOCATIONS"`
}

// LoadConfig reads configuration from the environment after loading an optional .env file.
// Variables already set in the environment win over the file.
func LoadConfig(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend url %q must be absolute", c.BackendURL)
	}
	if c.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.IdentityRevalidateInterval < 0 {
		return errors.New("identity revalidate interval must not be negative")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

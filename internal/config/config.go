package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime settings for the onboarding agent service.
type Config struct {
	// Server
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8003"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"onboarding"`
	AllowedOrigins   []string      `env:"APP_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	MaxUploadBytes   int64         `env:"APP_MAX_UPLOAD_BYTES" envDefault:"10485760"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Intent classification
	IntentMode    string        `env:"INTENT_MODE" envDefault:"auto"`
	IntentHTTPURL string        `env:"INTENT_HTTP_URL"`
	IntentStatic  string        `env:"INTENT_STATIC" envDefault:"unknown"`
	IntentTimeout time.Duration `env:"INTENT_TIMEOUT" envDefault:"5s"`

	// Conversation log; empty keeps it in memory.
	DatabaseURL string `env:"DATABASE_URL"`

	// Profile directory; empty disables user_type lookup.
	UserDirectoryURL      string        `env:"USER_DIRECTORY_URL"`
	UserDirectoryCacheTTL time.Duration `env:"USER_DIRECTORY_CACHE_TTL" envDefault:"5m"`
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AllowAnyOrigin reports whether the origin list contains the wildcard.
func (c Config) AllowAnyOrigin() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (c *Config) normalize() {
	c.IntentMode = strings.ToLower(strings.TrimSpace(c.IntentMode))
	c.IntentHTTPURL = strings.TrimSpace(c.IntentHTTPURL)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.UserDirectoryURL = strings.TrimSpace(c.UserDirectoryURL)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
}

func (c Config) validate() error {
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.IntentTimeout <= 0 {
		return fmt.Errorf("INTENT_TIMEOUT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("APP_MAX_UPLOAD_BYTES must be positive")
	}
	if c.UserDirectoryCacheTTL < 0 {
		return fmt.Errorf("USER_DIRECTORY_CACHE_TTL must be >= 0")
	}
	switch c.IntentMode {
	case "auto", "keyword", "static":
	case "http":
		if c.IntentHTTPURL == "" {
			return fmt.Errorf("INTENT_HTTP_URL is required when INTENT_MODE=http")
		}
	default:
		return fmt.Errorf("unsupported INTENT_MODE %q", c.IntentMode)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

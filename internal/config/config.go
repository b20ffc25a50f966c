// Package config loads hub configuration from the environment, with an
// optional providers.yaml overlay for per-provider OAuth credentials
// that can be reloaded without a restart.
package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the hub.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `env:"HUB_LISTEN_ADDR" envDefault:":8080"`

	// PublicURL is the externally visible base URL. It becomes the OAuth
	// issuer and the base for discovery metadata and callback URLs.
	PublicURL string `env:"HUB_PUBLIC_URL" envDefault:"http://localhost:8080"`

	// SecretKey derives both the JWT signing key and the vault key.
	SecretKey string `env:"HUB_SECRET_KEY"`

	// DatabasePath is the sqlite file, or ":memory:" for tests.
	DatabasePath string `env:"HUB_DATABASE_PATH" envDefault:"hub.db"`

	LogLevel    string `env:"HUB_LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Token lifetimes. Authorization codes and login states always use
	// the short StateTTL.
	AccessTokenTTL  time.Duration `env:"HUB_ACCESS_TOKEN_TTL" envDefault:"30m"`
	RefreshTokenTTL time.Duration `env:"HUB_REFRESH_TOKEN_TTL" envDefault:"720h"`
	StateTTL        time.Duration `env:"HUB_STATE_TTL" envDefault:"10m"`

	// Gateway limits.
	RateLimitPerMinute int           `env:"HUB_RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	InvokeTimeout      time.Duration `env:"HUB_INVOKE_TIMEOUT" envDefault:"60s"`
	AuditQueueSize     int           `env:"HUB_AUDIT_QUEUE_SIZE" envDefault:"1024"`

	// Admin bootstrap. When both are set and the user table is empty, an
	// approved admin account is created at startup.
	AdminEmail    string `env:"HUB_ADMIN_EMAIL"`
	AdminPassword string `env:"HUB_ADMIN_PASSWORD"`

	// ProvidersFile points at the optional providers.yaml overlay.
	ProvidersFile string `env:"HUB_PROVIDERS_FILE" envDefault:"providers.yaml"`
}

// Load reads a .env file if present, then parses environment variables
// and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("HUB_SECRET_KEY is required")
	}
	if len(c.SecretKey) < 32 {
		return fmt.Errorf("HUB_SECRET_KEY must be at least 32 characters")
	}
	if !strings.HasPrefix(c.PublicURL, "http://") && !strings.HasPrefix(c.PublicURL, "https://") {
		return fmt.Errorf("HUB_PUBLIC_URL must be an absolute http(s) URL")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.StateTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("HUB_RATE_LIMIT_PER_MINUTE must be positive")
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("HUB_ADMIN_EMAIL and HUB_ADMIN_PASSWORD must be set together")
	}
	return nil
}

// Issuer returns the OAuth issuer identifier, the public URL with any
// trailing slash removed.
func (c *Config) Issuer() string {
	return strings.TrimRight(c.PublicURL, "/")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// warnInsecureEnvFile flags a .env file readable by other users; it may
// hold the secret key and provider credentials.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(".env")
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

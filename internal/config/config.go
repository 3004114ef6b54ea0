package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	BindAddr string `mapstructure:"BIND_ADDR"`
	Env      string `mapstructure:"ENV"`

	IdentityURL              string        `mapstructure:"IDENTITY_URL"`
	IdentityTokenizeTemplate string        `mapstructure:"IDENTITY_TOKENIZE_TEMPLATE"`
	IdentityTimeout          time.Duration `mapstructure:"IDENTITY_TIMEOUT"`
	SessionPollInterval      time.Duration `mapstructure:"SESSION_POLL_INTERVAL"`
	SignInRate               float64       `mapstructure:"SIGNIN_RATE"`
	SignInBurst              int           `mapstructure:"SIGNIN_BURST"`

	APIURL         string        `mapstructure:"API_URL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CacheTTL       time.Duration `mapstructure:"CACHE_TTL"`
	CacheSize      int           `mapstructure:"CACHE_SIZE"`

	CredentialStore string `mapstructure:"CREDENTIAL_STORE"`
	CredentialFile  string `mapstructure:"CREDENTIAL_FILE"`
	CredentialKey   string `mapstructure:"CREDENTIAL_KEY"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "BIND_ADDR", "ENV",
	"IDENTITY_URL", "IDENTITY_TOKENIZE_TEMPLATE", "IDENTITY_TIMEOUT",
	"SESSION_POLL_INTERVAL", "SIGNIN_RATE", "SIGNIN_BURST",
	"API_URL", "REQUEST_TIMEOUT", "CACHE_TTL", "CACHE_SIZE",
	"CREDENTIAL_STORE", "CREDENTIAL_FILE", "CREDENTIAL_KEY", "REDIS_URL", "DATABASE_URL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("BIND_ADDR", "127.0.0.1")
	v.SetDefault("ENV", "development")
	v.SetDefault("IDENTITY_URL", "http://127.0.0.1:4433")
	v.SetDefault("IDENTITY_TIMEOUT", 10*time.Second)
	v.SetDefault("SESSION_POLL_INTERVAL", 30*time.Second)
	v.SetDefault("SIGNIN_RATE", 0.2)
	v.SetDefault("SIGNIN_BURST", 5)
	v.SetDefault("API_URL", "http://127.0.0.1:8000")
	v.SetDefault("REQUEST_TIMEOUT", 15*time.Second)
	v.SetDefault("CACHE_TTL", 5*time.Minute)
	v.SetDefault("CACHE_SIZE", 256)
	v.SetDefault("CREDENTIAL_STORE", "file")
	v.SetDefault("CREDENTIAL_KEY", "hms.credential")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CredentialFile == "" {
		cfg.CredentialFile = DefaultCredentialFile()
	}
	return cfg, nil
}

// DefaultCredentialFile is credential.json under the user's config
// directory, or the working directory when that is unknown.
func DefaultCredentialFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "hms-credential.json"
	}
	return filepath.Join(dir, "hms", "credential.json")
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the portal is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}

// Validate checks that the configuration is usable before anything is
// started.
func (c *Config) Validate() error {
	if err := validateURL("IDENTITY_URL", c.IdentityURL); err != nil {
		return err
	}
	if err := validateURL("API_URL", c.APIURL); err != nil {
		return err
	}

	switch c.CredentialStore {
	case "file":
		if c.CredentialFile == "" {
			return fmt.Errorf("CREDENTIAL_FILE is required when CREDENTIAL_STORE is \"file\"")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CREDENTIAL_STORE is \"redis\"")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CREDENTIAL_STORE is \"postgres\"")
		}
	default:
		return fmt.Errorf("CREDENTIAL_STORE must be \"file\", \"redis\", or \"postgres\", got %q", c.CredentialStore)
	}

	if c.SessionPollInterval < time.Second {
		return fmt.Errorf("SESSION_POLL_INTERVAL must be at least 1s, got %s", c.SessionPollInterval)
	}
	if c.IdentityTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("IDENTITY_TIMEOUT and REQUEST_TIMEOUT must be positive")
	}
	if c.CacheTTL < 0 || c.CacheSize < 0 {
		return fmt.Errorf("CACHE_TTL and CACHE_SIZE must not be negative")
	}
	if c.SignInRate < 0 || c.SignInBurst < 0 || c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.SignInRate > 0 && c.SignInBurst < 1 {
		return fmt.Errorf("SIGNIN_BURST must be at least 1 when SIGNIN_RATE is set")
	}
	return nil
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}

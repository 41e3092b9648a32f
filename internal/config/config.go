package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for trialdesk.
type Config struct {
	// APIURL is the single base endpoint for both auth and resource
	// calls, e.g. http://localhost:8000/api.
	APIURL string `env:"TRIALDESK_API_URL" envDefault:"http://localhost:8000/api"`

	// StatePath is the bbolt file holding the stored session. Defaults to
	// ~/.trialdesk/state.db.
	StatePath string `env:"TRIALDESK_STATE_PATH"`

	// Optional login defaults for non-interactive use.
	Username string `env:"TRIALDESK_USERNAME"`
	Password string `env:"TRIALDESK_PASSWORD"`

	// HTTPTimeout bounds each individual HTTP exchange.
	HTTPTimeout time.Duration `env:"TRIALDESK_HTTP_TIMEOUT" envDefault:"30s"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the stored password to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		path, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	absPath, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	cfg.StatePath = absPath

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("TRIALDESK_API_URL must not be empty")
	}

	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("TRIALDESK_API_URL is not a valid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("TRIALDESK_API_URL must use http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("TRIALDESK_API_URL must include a host")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("TRIALDESK_HTTP_TIMEOUT must be positive")
	}

	return nil
}

// DefaultStatePath returns ~/.trialdesk/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".trialdesk", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

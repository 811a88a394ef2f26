// Package config loads environment configuration and the runtime
// application-config document that supplies the API base URL.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the console.
type Config struct {
	// AppConfigPath is the location of the application-config document:
	// a local file (JSON or YAML) or an http(s) URL serving JSON. The
	// document is fetched once at startup, before any other component
	// initializes.
	AppConfigPath string `env:"APP_CONFIG" envDefault:"appconfig.json"`

	// APIBaseURL is the fallback backend base URL used when the
	// app-config document cannot be loaded or omits one.
	APIBaseURL string `env:"API_BASE_URL"`

	// StateDir is the directory holding the persistent session database.
	// Defaults to ~/.fleetops-console/ when empty.
	StateDir string `env:"CONSOLE_STATE_DIR"`

	// RefreshTimeout bounds the token refresh call so a hung backend
	// cannot hold the refresh lock indefinitely.
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT" envDefault:"15s"`

	// HTTPTimeout is the timeout for all other backend calls.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// GuardBypass disables the route guard entirely. Local development
	// only; every navigation is allowed regardless of session state.
	GuardBypass bool `env:"GUARD_BYPASS" envDefault:"false"`

	// WatchAppConfig enables a watcher that logs when the local
	// app-config document changes. The document is never hot-reloaded.
	WatchAppConfig bool `env:"WATCH_APP_CONFIG" envDefault:"false"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:""`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
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

	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}

		cfg.StateDir = filepath.Join(home, ".fleetops-console")
	}

	if cfg.RefreshTimeout <= 0 {
		return nil, fmt.Errorf("REFRESH_TIMEOUT must be positive, got %s", cfg.RefreshTimeout)
	}

	return cfg, nil
}

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

// Config holds all environment-based configuration for marksync.
type Config struct {
	// Raindrop API token (required).
	Token string `env:"RAINDROP_TOKEN"`

	// API base URL override for tests and self-hosted deployments.
	BaseURL string `env:"RAINDROP_BASE_URL" envDefault:""`

	// Path to the engine state database. Defaults to
	// ~/.marksync/state.db when empty.
	StatePath string `env:"MARKSYNC_STATE_PATH"`

	// Path to the bookmark tree database. Defaults to
	// ~/.marksync/tree.db when empty.
	TreePath string `env:"MARKSYNC_TREE_PATH"`

	// Title of the mirror root folder.
	RootTitle string `env:"MARKSYNC_ROOT_TITLE" envDefault:"Raindrop"`

	// Interval between passes. Zero runs a single pass and exits.
	SyncInterval time.Duration `env:"MARKSYNC_INTERVAL" envDefault:"0"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.TreePath == "" {
		path, err := defaultDataPath("tree.db")
		if err != nil {
			return nil, err
		}

		cfg.TreePath = path
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Token == "" {
		return fmt.Errorf("RAINDROP_TOKEN is required")
	}

	if c.RootTitle == "" {
		return fmt.Errorf("MARKSYNC_ROOT_TITLE must not be empty")
	}

	if c.SyncInterval < 0 {
		return fmt.Errorf("MARKSYNC_INTERVAL must not be negative")
	}

	return nil
}

// defaultDataPath returns ~/.marksync/<name>.
func defaultDataPath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".marksync", name), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

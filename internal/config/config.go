// Package config loads Recall settings from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config holds process-wide settings.
type Config struct {
	// DBPath is the SQLite database file. Defaults to
	// ~/.recall/memory.db.
	DBPath string `env:"RECALL_DB"`

	// ArchiveDir is the default directory for archive snapshots.
	// Defaults to ~/.recall/archives.
	ArchiveDir string `env:"RECALL_ARCHIVE_DIR"`

	// ListLimit is the default result cap for list operations.
	ListLimit int `env:"RECALL_LIST_LIMIT" envDefault:"20"`
}

// Load reads configuration from the environment, filling in
// home-relative defaults for unset paths.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ListLimit <= 0 {
		return Config{}, fmt.Errorf("list limit must be positive, got %d", cfg.ListLimit)
	}

	if cfg.DBPath == "" || cfg.ArchiveDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		if cfg.DBPath == "" {
			cfg.DBPath = filepath.Join(home, ".recall", "memory.db")
		}
		if cfg.ArchiveDir == "" {
			cfg.ArchiveDir = filepath.Join(home, ".recall", "archives")
		}
	}
	return cfg, nil
}

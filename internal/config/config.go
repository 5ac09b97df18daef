// Package config resolves runtime settings from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration. Flags may override
// individual values after Load.
type Config struct {
	// VaultDir is the vault root: documents/, snapshots/ and the index
	// all live under it.
	VaultDir string `env:"LOREVAULT_DIR" envDefault:"."`
	// IndexPath overrides the index database location. Empty means
	// <VaultDir>/index.db.
	IndexPath string `env:"LOREVAULT_INDEX"`
	// SchemaDir holds user schema files loaded on top of the built-ins.
	// Empty means <VaultDir>/schemas.
	SchemaDir string `env:"LOREVAULT_SCHEMAS"`
	// SnapshotRetain is how many snapshots prune keeps by default.
	SnapshotRetain int `env:"LOREVAULT_SNAPSHOT_RETAIN" envDefault:"10"`
	// WatchDebounce is how long the watcher waits after the last file
	// event before syncing.
	WatchDebounce time.Duration `env:"LOREVAULT_WATCH_DEBOUNCE" envDefault:"500ms"`
	Verbose       bool          `env:"LOREVAULT_VERBOSE"`
}

// Load reads configuration from the environment and fills in derived
// defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.VaultDir, "index.db")
	}
	if cfg.SchemaDir == "" {
		cfg.SchemaDir = filepath.Join(cfg.VaultDir, "schemas")
	}
	if cfg.SnapshotRetain < 1 {
		cfg.SnapshotRetain = 1
	}
	return cfg, nil
}

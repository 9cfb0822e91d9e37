package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ApplyDefaults fills zero values with defaults. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir()
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2 * runtime.NumCPU()
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if cfg.Mount.Base == "" {
		cfg.Mount.Base = filepath.Join(os.TempDir(), "mirrorfs")
	}
	if cfg.Mount.Timeout == 0 {
		cfg.Mount.Timeout = 10 * time.Second
	}

	if cfg.Volume.Label == "" {
		cfg.Volume.Label = "mirrorfs"
	}
	if cfg.Volume.SectorSize == 0 {
		cfg.Volume.SectorSize = 512
	}

	if cfg.FS.AttrTTL == 0 {
		cfg.FS.AttrTTL = time.Second
	}
}

// GetDefaultConfig returns a configuration with every default applied and
// the given root.
func GetDefaultConfig(root string) *Config {
	cfg := &Config{Root: root}
	ApplyDefaults(cfg)
	return cfg
}

func defaultStateDir() string {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "mirrorfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mirrorfs-state")
	}
	return filepath.Join(home, ".local", "state", "mirrorfs")
}

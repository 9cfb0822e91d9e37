// Package config loads mirrorfs settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MIRRORFS_MOUNT_POINT.
const EnvPrefix = "MIRRORFS"

// Config is the complete mirrorfs configuration.
type Config struct {
	// Root is the real directory mirrored by the volume.
	Root string `mapstructure:"root" validate:"required"`

	// StateDir holds the session record and its lock.
	StateDir string `mapstructure:"state_dir" validate:"required"`

	// Workers bounds the number of callbacks served at once.
	Workers int `mapstructure:"workers" validate:"gte=1"`

	Logging LoggingConfig `mapstructure:"logging"`
	Mount   MountConfig   `mapstructure:"mount"`
	Volume  VolumeConfig  `mapstructure:"volume"`
	FS      FSConfig      `mapstructure:"fs"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=ERROR WARN INFO DEBUG TRACE"`
}

// MountConfig selects where and how the volume is mounted.
type MountConfig struct {
	// Base is the directory holding the letter mount points "z" to "a".
	Base string `mapstructure:"base"`

	// Point is an explicit mount point; it takes precedence over Base.
	Point string `mapstructure:"point"`

	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	AllowOther bool          `mapstructure:"allow_other"`
}

// VolumeConfig is the static volume metadata.
type VolumeConfig struct {
	Label string `mapstructure:"label" validate:"max=32"`

	// ID of 0 derives the id from the root path.
	ID uint32 `mapstructure:"id"`

	SectorSize uint32 `mapstructure:"sector_size" validate:"oneof=512 1024 2048 4096"`
}

// FSConfig tunes the dispatcher and the kernel cache.
type FSConfig struct {
	ConfineSymlinks bool          `mapstructure:"confine_symlinks"`
	SyncWrites      bool          `mapstructure:"sync_writes"`
	AttrTTL         time.Duration `mapstructure:"attr_ttl" validate:"gte=0"`
	Watch           bool          `mapstructure:"watch"`
}

// keys lists every setting so environment overrides reach Unmarshal even
// when the file does not mention them.
var keys = []string{
	"root",
	"state_dir",
	"workers",
	"logging.level",
	"mount.base",
	"mount.point",
	"mount.timeout",
	"mount.allow_other",
	"volume.label",
	"volume.id",
	"volume.sector_size",
	"fs.confine_symlinks",
	"fs.sync_writes",
	"fs.attr_ttl",
	"fs.watch",
}

// Load reads configPath (or the default config file when empty), applies
// environment overrides and defaults, and returns the result unvalidated
// so callers can layer flags on top before calling Validate.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(GetConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return nil
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// GetConfigDir returns the directory searched for config.yaml.
func GetConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mirrorfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mirrorfs")
}

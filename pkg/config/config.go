// Package config loads vfskit's runtime configuration: which disks to
// register with the VBD, which filesystems to mount and where, and the
// block cache and logging knobs that govern them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/vfskit/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is vfskit's top-level configuration.
//
// Precedence (highest to lowest):
//  1. CLI flags (bound by the caller via viper.BindPFlag before Load)
//  2. Environment variables (VFSKIT_*)
//  3. Configuration file (YAML)
//  4. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	PLB     PLBConfig     `mapstructure:"plb" yaml:"plb"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Disks   []DiskConfig  `mapstructure:"disks" yaml:"disks"`
	Mounts  []MountConfig `mapstructure:"mounts" yaml:"mounts"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// PLBConfig sizes the process-wide Path Lookup Buffer.
type PLBConfig struct {
	// Size is the PLB ring buffer capacity.
	// Supports human-readable sizes: "4KiB", "64Ki", or a plain byte count.
	Size bytesize.ByteSize `mapstructure:"size" yaml:"size"`
}

// CacheConfig governs the block cache shared by every mounted disk.
type CacheConfig struct {
	// LowWatermark and HighWatermark are occupancy thresholds (in
	// blocks): a cache miss allocates a new block only while occupancy
	// is below LowWatermark, and a block released while occupancy is
	// above HighWatermark is evicted.
	LowWatermark  int `mapstructure:"low_watermark" validate:"gte=0" yaml:"low_watermark"`
	HighWatermark int `mapstructure:"high_watermark" validate:"gtfield=LowWatermark" yaml:"high_watermark"`

	// Mode selects write-back (default) or write-through caching.
	// Valid values: writeback, writethrough.
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=writeback writethrough" yaml:"mode"`
}

// DiskConfig registers one backing disk image with the VBD.
type DiskConfig struct {
	// Name is the VBD device name other config entries reference.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Path is the backing file or block device on the host filesystem.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// ReadOnly opens the backing image without write access.
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`
}

// MountConfig grafts one filesystem instance into the namespace at
// startup.
type MountConfig struct {
	// Path is the absolute mount point ("/" for the initial root mount).
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// Handle selects the registered filesystem driver: "fat" or "tmpfs".
	Handle string `mapstructure:"handle" validate:"required,oneof=fat tmpfs" yaml:"handle"`

	// Device is the VBD device or partition name to mount (fat only;
	// tmpfs ignores it).
	Device string `mapstructure:"device" yaml:"device,omitempty"`

	// Options is the driver's opaque mount-option string (e.g.
	// "wtcache" to force write-through caching for this instance).
	Options string `mapstructure:"options" yaml:"options,omitempty"`
}

// Load reads configuration from configPath (or the default location
// when empty), falling back to defaults when no file is found.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := DefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes cfg to path in YAML form.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("VFSKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vfskit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "vfskit")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

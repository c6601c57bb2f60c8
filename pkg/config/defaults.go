package config

import (
	"strings"

	"github.com/marmos91/vfskit/internal/bytesize"
	"github.com/marmos91/vfskit/pkg/blockcache"
)

// DefaultConfig returns a Config with every field set to its default,
// sufficient to mount a single in-memory tmpfs root.
func DefaultConfig() *Config {
	cfg := &Config{
		Mounts: []MountConfig{{Path: "/", Handle: "tmpfs"}},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in any zero-valued fields of cfg with defaults.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyPLBDefaults(&cfg.PLB)
	applyCacheDefaults(&cfg.Cache)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyPLBDefaults(cfg *PLBConfig) {
	if cfg.Size == 0 {
		cfg.Size = bytesize.ByteSize(4 * 1024)
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.LowWatermark == 0 {
		cfg.LowWatermark = blockcache.DefaultLowWatermark
	}
	if cfg.HighWatermark == 0 {
		cfg.HighWatermark = blockcache.DefaultHighWatermark
	}
	if cfg.Mode == "" {
		cfg.Mode = "writeback"
	}
}

// CacheMode translates the configured mode string into a blockcache.Mode.
func (c CacheConfig) CacheMode() blockcache.Mode {
	if c.Mode == "writethrough" {
		return blockcache.ModeWriteThrough
	}
	return blockcache.ModeWriteBack
}

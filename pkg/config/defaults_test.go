package config

import (
	"testing"

	"github.com/marmos91/vfskit/internal/bytesize"
	"github.com/marmos91/vfskit/pkg/blockcache"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default log level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected default log format text, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("expected default log output stdout, got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LoggingUppercasesExplicitLevel(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected explicit level to be uppercased to DEBUG, got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_PLB(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.PLB.Size != bytesize.ByteSize(4*1024) {
		t.Errorf("expected default PLB size 4KiB, got %d", cfg.PLB.Size)
	}
}

func TestApplyDefaults_Cache(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Cache.LowWatermark != blockcache.DefaultLowWatermark {
		t.Errorf("expected default low watermark %d, got %d", blockcache.DefaultLowWatermark, cfg.Cache.LowWatermark)
	}
	if cfg.Cache.HighWatermark != blockcache.DefaultHighWatermark {
		t.Errorf("expected default high watermark %d, got %d", blockcache.DefaultHighWatermark, cfg.Cache.HighWatermark)
	}
	if cfg.Cache.Mode != "writeback" {
		t.Errorf("expected default cache mode writeback, got %q", cfg.Cache.Mode)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "DEBUG", Format: "json", Output: "/var/log/vfskit.log"},
		Cache:   CacheConfig{LowWatermark: 10, HighWatermark: 20, Mode: "writethrough"},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Format != "json" {
		t.Errorf("expected explicit format json to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Cache.Mode != "writethrough" {
		t.Errorf("expected explicit cache mode to be preserved, got %q", cfg.Cache.Mode)
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should be valid, got error: %v", err)
	}
}

func TestDefaultConfig_MountsTmpfsRoot(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Mounts) != 1 {
		t.Fatalf("expected exactly one default mount, got %d", len(cfg.Mounts))
	}
	if cfg.Mounts[0].Path != "/" || cfg.Mounts[0].Handle != "tmpfs" {
		t.Errorf("expected default mount of tmpfs at /, got %+v", cfg.Mounts[0])
	}
}

func TestCacheConfig_CacheMode(t *testing.T) {
	wb := CacheConfig{Mode: "writeback"}
	if wb.CacheMode() != blockcache.ModeWriteBack {
		t.Errorf("expected writeback mode")
	}
	wt := CacheConfig{Mode: "writethrough"}
	if wt.CacheMode() != blockcache.ModeWriteThrough {
		t.Errorf("expected writethrough mode")
	}
}

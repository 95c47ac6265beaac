// Package config resolves Hustle's process-wide settings: block capacity,
// worker count, Bloom filter false-positive target, and catalog location.
//
// Settings are layered the way the teacher project layers its own config:
// Load builds a fresh viper instance per call (no process-wide singleton)
// and reports errors, and LoadDirect wraps Load for callers (snapshot
// tools, benchmark harnesses, the CLI) that want defaults instead of an
// error.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds Hustle's tunable parameters. Defaults match spec §3/§4.4.
type Config struct {
	// BlockCapacityBytes bounds a Block's live byte count (spec §3's
	// "fixed-maximum-byte-size row group", default 1 MiB, often reduced to
	// 1 KiB in tests to force multi-block tables).
	BlockCapacityBytes int64 `mapstructure:"block_capacity_bytes"`

	// Workers is the scheduler's worker pool size. Zero means hardware
	// concurrency (spec §5).
	Workers int `mapstructure:"workers"`

	// BloomFalsePositiveRate is the default target false-positive rate for
	// Bloom filters built by SelectBuildHash/FilterJoin (spec §4.4).
	BloomFalsePositiveRate float64 `mapstructure:"bloom_false_positive_rate"`

	// CatalogPath is the JSON catalog file path (spec §6).
	CatalogPath string `mapstructure:"catalog_path"`

	// ProfilingEnabled toggles per-task profiling events (spec §4.1).
	ProfilingEnabled bool `mapstructure:"profiling_enabled"`
}

const (
	defaultBlockCapacityBytes     = 1 << 20 // 1 MiB
	defaultBloomFalsePositiveRate = 0.01
	defaultCatalogPath            = "hustle_catalog.json"
)

// Default returns the built-in defaults used when no config file is present.
func Default() *Config {
	return &Config{
		BlockCapacityBytes:     defaultBlockCapacityBytes,
		Workers:                0,
		BloomFalsePositiveRate: defaultBloomFalsePositiveRate,
		CatalogPath:            defaultCatalogPath,
		ProfilingEnabled:       false,
	}
}

// Load builds a viper-backed Config from an optional TOML file at path,
// falling back to Default() values for anything unset, and applying
// HUSTLE_* environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("HUSTLE")
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("block_capacity_bytes", d.BlockCapacityBytes)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("bloom_false_positive_rate", d.BloomFalsePositiveRate)
	v.SetDefault("catalog_path", d.CatalogPath)
	v.SetDefault("profiling_enabled", d.ProfilingEnabled)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("hustle: reading config %q: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("hustle: parsing config: %w", err)
	}
	return cfg, nil
}

// LoadDirect reads the TOML file at path through Load. It is used by
// callers (the CLI, benchmark harnesses) that run before an engine exists.
// It returns Default() (not an error) if the file is malformed (a missing
// file already yields defaults from Load),
// mirroring the teacher's LoadLocalConfig fallback behavior.
func LoadDirect(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Package config loads filestore command configuration.
//
// Sources are applied in increasing priority: built-in defaults, a YAML file,
// FILESTORE_* environment variables, then command-line overrides. Environment
// variable names map to keys by dropping the prefix, lowercasing and turning
// underscores into dots, so FILESTORE_LOG_LEVEL sets log.level.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "FILESTORE_"

// Config is the filestore command configuration.
type Config struct {
	// Root is the storage root directory.
	Root string `koanf:"root"`
	// Capacity is the storage budget, e.g. "10GiB" or "500MB".
	Capacity string       `koanf:"capacity"`
	Shard    ShardConfig  `koanf:"shard"`
	Lifetime SweepConfig  `koanf:"lifetime"`
	Shutdown StopConfig   `koanf:"shutdown"`
	Log      LogConfig    `koanf:"log"`
	Metrics  MetricConfig `koanf:"metrics"`
}

// ShardConfig controls the directory hierarchy.
type ShardConfig struct {
	Depth  int `koanf:"depth"`
	Fanout int `koanf:"fanout"`
}

// SweepConfig controls the lifetime sweep.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// StopConfig bounds how long shutdown waits for the sweep to finish.
type StopConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricConfig sets the address the run command serves /metrics on.
type MetricConfig struct {
	Address string `koanf:"address"`
}

// Defaults returns the configuration used when no source sets a key.
func Defaults() map[string]any {
	return map[string]any{
		"root":              "./filestore-data",
		"capacity":          "1GiB",
		"shard.depth":       3,
		"shard.fanout":      128,
		"lifetime.interval": "500ms",
		"shutdown.timeout":  "5s",
		"log.level":         "info",
		"log.format":        "auto",
		"metrics.address":   ":9090",
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped when
// empty), the environment and overrides, in that order.
func Load(path string, overrides map[string]any) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(Defaults()), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	if len(overrides) > 0 {
		if err := k.Load(mapProvider(overrides), nil); err != nil {
			return Config{}, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey turns FILESTORE_LOG_LEVEL into log.level.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "_", ".")
}

// Validate checks the configuration for values the store would reject.
func (c Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}
	if _, err := c.CapacityBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Shard.Depth < 0 {
		errs = append(errs, fmt.Errorf("shard.depth must be >= 0, got %d", c.Shard.Depth))
	}
	if c.Shard.Depth > 0 && c.Shard.Fanout < 2 {
		errs = append(errs, fmt.Errorf("shard.fanout must be >= 2, got %d", c.Shard.Fanout))
	}
	if c.Lifetime.Interval <= 0 {
		errs = append(errs, fmt.Errorf("lifetime.interval must be > 0, got %s", c.Lifetime.Interval))
	}
	if c.Shutdown.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown.timeout must be > 0, got %s", c.Shutdown.Timeout))
	}
	return errors.Join(errs...)
}

// CapacityBytes parses Capacity. Both SI ("500MB") and IEC ("10GiB") units
// are accepted; a bare number is bytes.
func (c Config) CapacityBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Capacity)
	if err != nil {
		return 0, fmt.Errorf("capacity %q: %w", c.Capacity, err)
	}
	if n == 0 || n > math.MaxInt64 {
		return 0, fmt.Errorf("capacity %q out of range", c.Capacity)
	}
	return int64(n), nil
}

// mapProvider loads a flat map of dotted keys.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		setPath(out, strings.Split(k, "."), v)
	}
	return out, nil
}

func setPath(m map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

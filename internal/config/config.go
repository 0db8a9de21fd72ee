// ============================================================================
// Cranium Config - YAML configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Function: Maps the YAML config file onto Config, fills defaults and
//           validates the result.
//
// File layout (configs/default.yaml):
//
//   threadpool:
//     threads: 0                 # per pool, 0 = CPU count + 1
//     multi_pool: false          # one pool per layer
//     initial_list_size: 10
//     list_growing_increment: 10
//   tick:
//     execution: 50ms            # single pool window
//     pause: 10ms                # sleep between ticks
//     layers:                    # multi pool windows
//       sensory_motor: 20ms
//       physical: 10ms
//       mission: 10ms
//       core: 10ms
//   registry:
//     backend: file              # file | redis
//     path: data/registry.json
//     redis_addr: localhost:6379
//     redis_key: cranium:registry
//   statistics:
//     enabled: false
//   metrics:
//     enabled: true
//     port: 9090
//   health:
//     enabled: true
//     port: 50051
//
// Missing keys keep their Default() value.
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opencranium/cranium/internal/core"
)

// DefaultPath is where the CLI looks for the config file.
const DefaultPath = "configs/default.yaml"

// Registry backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete runtime configuration.
type Config struct {
	ThreadPool struct {
		Threads              int  `yaml:"threads"`
		MultiPool            bool `yaml:"multi_pool"`
		InitialListSize      int  `yaml:"initial_list_size"`
		ListGrowingIncrement int  `yaml:"list_growing_increment"`
	} `yaml:"threadpool"`

	Tick struct {
		Execution time.Duration `yaml:"execution"`
		Pause     time.Duration `yaml:"pause"`
		Layers    struct {
			SensoryMotor time.Duration `yaml:"sensory_motor"`
			Physical     time.Duration `yaml:"physical"`
			Mission      time.Duration `yaml:"mission"`
			Core         time.Duration `yaml:"core"`
		} `yaml:"layers"`
	} `yaml:"tick"`

	Registry struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		RedisAddr string `yaml:"redis_addr"`
		RedisKey  string `yaml:"redis_key"`
	} `yaml:"registry"`

	Statistics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"statistics"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Health struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"health"`
}

// Default returns the built in configuration.
func Default() *Config {
	var cfg Config
	cfg.ThreadPool.InitialListSize = 10
	cfg.ThreadPool.ListGrowingIncrement = 10

	cfg.Tick.Execution = 50 * time.Millisecond
	cfg.Tick.Pause = 10 * time.Millisecond
	cfg.Tick.Layers.SensoryMotor = 20 * time.Millisecond
	cfg.Tick.Layers.Physical = 10 * time.Millisecond
	cfg.Tick.Layers.Mission = 10 * time.Millisecond
	cfg.Tick.Layers.Core = 10 * time.Millisecond

	cfg.Registry.Backend = BackendFile
	cfg.Registry.Path = "data/registry.json"
	cfg.Registry.RedisAddr = "localhost:6379"
	cfg.Registry.RedisKey = "cranium:registry"

	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090
	cfg.Health.Enabled = true
	cfg.Health.Port = 50051
	return &cfg
}

// Load reads path over Default() and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default() and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and the registry backend.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.ThreadPool.Threads >= 0, "threadpool.threads must not be negative, got %d", c.ThreadPool.Threads)
	check(c.ThreadPool.InitialListSize >= 0, "threadpool.initial_list_size must not be negative, got %d", c.ThreadPool.InitialListSize)
	check(c.ThreadPool.ListGrowingIncrement >= 0, "threadpool.list_growing_increment must not be negative, got %d", c.ThreadPool.ListGrowingIncrement)

	check(c.Tick.Execution >= 0, "tick.execution must not be negative, got %s", c.Tick.Execution)
	check(c.Tick.Pause >= 0, "tick.pause must not be negative, got %s", c.Tick.Pause)
	b := c.LayerBudget()
	for _, l := range core.Layers() {
		check(b.For(l) >= 0, "tick.layers.%s must not be negative, got %s", l, b.For(l))
	}

	switch c.Registry.Backend {
	case BackendFile:
		check(c.Registry.Path != "", "registry.path is required for the file backend")
	case BackendRedis:
		check(c.Registry.RedisAddr != "", "registry.redis_addr is required for the redis backend")
		check(c.Registry.RedisKey != "", "registry.redis_key is required for the redis backend")
	default:
		check(false, "registry.backend must be %q or %q, got %q", BackendFile, BackendRedis, c.Registry.Backend)
	}

	if c.Metrics.Enabled {
		check(validPort(c.Metrics.Port), "metrics.port out of range: %d", c.Metrics.Port)
	}
	if c.Health.Enabled {
		check(validPort(c.Health.Port), "health.port out of range: %d", c.Health.Port)
	}
	if c.Metrics.Enabled && c.Health.Enabled {
		check(c.Metrics.Port != c.Health.Port, "metrics.port and health.port must differ, both %d", c.Metrics.Port)
	}
	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// CoreConfig converts the threadpool section.
func (c *Config) CoreConfig() core.Config {
	return core.Config{
		Threads:       c.ThreadPool.Threads,
		MultiPool:     c.ThreadPool.MultiPool,
		ListSize:      c.ThreadPool.InitialListSize,
		ListIncrement: c.ThreadPool.ListGrowingIncrement,
	}
}

// LayerBudget converts tick.layers.
func (c *Config) LayerBudget() core.LayerBudget {
	return core.LayerBudget{
		SensoryMotor: c.Tick.Layers.SensoryMotor,
		Physical:     c.Tick.Layers.Physical,
		Mission:      c.Tick.Layers.Mission,
		Core:         c.Tick.Layers.Core,
	}
}

// Schedule converts the tick section for core.Run.
func (c *Config) Schedule() core.Schedule {
	return core.Schedule{
		Execution: c.Tick.Execution,
		Layers:    c.LayerBudget(),
		Pause:     c.Tick.Pause,
	}
}

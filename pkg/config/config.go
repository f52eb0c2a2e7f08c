// Package config holds allocscope settings: built-in defaults, an optional
// YAML file, and command-line overrides applied on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srodi/allocscope/pkg/types"
)

// Config is the full runtime configuration.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	TopK     int           `yaml:"top_k"`
	CPU      CPUConfig     `yaml:"cpu"`
	Events   EventsConfig  `yaml:"events"`
	Log      LogConfig     `yaml:"log"`
}

// CPUConfig controls the CPU sampling cadence.
type CPUConfig struct {
	// Settle is the wait between the discarded and the rendered reading.
	Settle time.Duration `yaml:"settle"`
	Period time.Duration `yaml:"period"`
}

// EventsConfig points the event source at the runtime library that emits
// allocation events. Object overrides the embedded probe program when set.
type EventsConfig struct {
	Object         string `yaml:"object"`
	Library        string `yaml:"library"`
	AllocSymbol    string `yaml:"alloc_symbol"`
	HeapStatSymbol string `yaml:"heap_stats_symbol"`
	Buffer         int    `yaml:"buffer"`
}

// LogConfig mirrors logging.Config in file form.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file or flags are given.
func Default() Config {
	return Config{
		Interval: types.DefaultInterval,
		TopK:     types.DefaultTopK,
		CPU: CPUConfig{
			Settle: time.Second,
			Period: 2 * time.Second,
		},
		Events: EventsConfig{
			Library:        "libcoreclrtraceptprovider.so",
			AllocSymbol:    "FireEtXplatGCAllocationTick_V4",
			HeapStatSymbol: "FireEtXplatGCHeapStats_V2",
			Buffer:         4096,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top_k must be positive, got %d", c.TopK))
	}
	if c.CPU.Settle < 0 {
		errs = append(errs, fmt.Errorf("cpu settle must not be negative, got %v", c.CPU.Settle))
	}
	if c.CPU.Period <= 0 {
		errs = append(errs, fmt.Errorf("cpu period must be positive, got %v", c.CPU.Period))
	}
	if c.Events.Buffer < 0 {
		errs = append(errs, fmt.Errorf("events buffer must not be negative, got %d", c.Events.Buffer))
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

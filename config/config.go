// Package config holds the runtime configuration for the watcher.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes the usual "30s" /
// "10m" spelling in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete watcher configuration.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Paths    PathsConfig    `yaml:"paths"`
	Journal  JournalConfig  `yaml:"journal"`
	Backfill BackfillConfig `yaml:"backfill"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Orders   OrdersConfig   `yaml:"orders"`
}

// GatewayConfig points at the local brokerage gateway.
type GatewayConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token,omitempty"`
}

// PathsConfig names the on-disk stores.
type PathsConfig struct {
	CacheDir        string `yaml:"cache_dir"`
	AssignmentsFile string `yaml:"assignments_file"`
	StatusLog       string `yaml:"status_log"`
	IntentsLog      string `yaml:"intents_log"`
}

// JournalConfig selects the audit log backend.
type JournalConfig struct {
	Type string `yaml:"type"` // "jsonl" or "sqlite"
	Path string `yaml:"path"`
}

// BackfillConfig tunes the history backfill.
type BackfillConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	RateMax          int           `yaml:"rate_max"`
	RateWindow       Duration      `yaml:"rate_window"`
	HourlyTargetBars int           `yaml:"hourly_target_bars"`
	DailyTargetBars  int           `yaml:"daily_target_bars"`
}

// ScheduleConfig pins the cadences to the exchange clock.
type ScheduleConfig struct {
	Timezone string `yaml:"timezone"`
	EndOfDay string `yaml:"end_of_day"`
}

// MetricsConfig exposes the Prometheus endpoint. Empty addr disables
// it.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// OrdersConfig gates real order transmission. Live defaults to false:
// the watcher observes and records unless explicitly armed.
type OrdersConfig struct {
	Live        bool          `yaml:"live"`
	FillTimeout Duration      `yaml:"fill_timeout"`
}

// Default returns a configuration with sensible defaults. The watcher
// runs dry against a local gateway out of the box.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL: "http://127.0.0.1:4001",
		},
		Paths: PathsConfig{
			CacheDir:        "./data/cache",
			AssignmentsFile: "./data/assignments.csv",
			StatusLog:       "./data/status.jsonl",
			IntentsLog:      "./data/intents.jsonl",
		},
		Journal: JournalConfig{
			Type: "jsonl",
			Path: "./data/signals.jsonl",
		},
		Backfill: BackfillConfig{
			Concurrency:      32,
			RateMax:          60,
			RateWindow:       Duration(10 * time.Minute),
			HourlyTargetBars: 400,
			DailyTargetBars:  365,
		},
		Schedule: ScheduleConfig{
			Timezone: "America/New_York",
			EndOfDay: "15:59:55",
		},
		Orders: OrdersConfig{
			Live:        false,
			FillTimeout: Duration(30 * time.Second),
		},
	}
}

// LoadFromFile reads YAML over the defaults, so a config file only
// needs the fields it changes.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Paths.CacheDir == "" {
		return fmt.Errorf("paths.cache_dir is required")
	}
	if c.Paths.AssignmentsFile == "" {
		return fmt.Errorf("paths.assignments_file is required")
	}
	if c.Journal.Type != "jsonl" && c.Journal.Type != "sqlite" {
		return fmt.Errorf("journal.type must be 'jsonl' or 'sqlite'")
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	if c.Backfill.Concurrency <= 0 {
		return fmt.Errorf("backfill.concurrency must be positive")
	}
	if c.Backfill.RateMax <= 0 || c.Backfill.RateWindow <= 0 {
		return fmt.Errorf("backfill rate limit must be positive")
	}
	if c.Backfill.HourlyTargetBars <= 0 || c.Backfill.DailyTargetBars <= 0 {
		return fmt.Errorf("backfill target bars must be positive")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("unknown schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	var hh, mm, ss int
	if _, err := fmt.Sscanf(c.Schedule.EndOfDay, "%d:%d:%d", &hh, &mm, &ss); err != nil {
		return fmt.Errorf("schedule.end_of_day must be HH:MM:SS: %w", err)
	}
	if c.Orders.Live && c.Orders.FillTimeout <= 0 {
		return fmt.Errorf("orders.fill_timeout must be positive in live mode")
	}
	return nil
}

// Location resolves the schedule timezone. Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

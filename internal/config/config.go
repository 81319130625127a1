package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Monitor types the engine knows how to probe.
var MonitorTypes = []string{"http", "tcp", "websocket", "dns", "ping"}

type Config struct {
	Logging  LoggingConfig   `yaml:"logging"`
	Database DatabaseConfig  `yaml:"database"`
	Engine   EngineConfig    `yaml:"engine"`
	Ops      OpsConfig       `yaml:"ops"`
	Monitors []MonitorConfig `yaml:"monitors"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type DatabaseConfig struct {
	Path                 string `yaml:"path"`
	MaxReadConns         int    `yaml:"max_read_conns"`
	RetentionDays        int    `yaml:"retention_days"`
	HistoryRetentionDays int    `yaml:"history_retention_days"`
}

type EngineConfig struct {
	Workers             int           `yaml:"workers"`
	RunnerConcurrency   int           `yaml:"runner_concurrency"`
	DefaultTimeout      time.Duration `yaml:"default_timeout"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	MaxJobRetries       int           `yaml:"max_job_retries"`
	ClaimsPerSecond     float64       `yaml:"claims_per_second"`
	LeaseTimeout        time.Duration `yaml:"lease_timeout"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`
	AllowPrivateTargets *bool         `yaml:"allow_private_targets"`
}

// AllowPrivate defaults to true; self-hosted deployments usually
// probe their own LAN.
func (e *EngineConfig) AllowPrivate() bool {
	if e.AllowPrivateTargets == nil {
		return true
	}
	return *e.AllowPrivateTargets
}

type OpsConfig struct {
	Listen string `yaml:"listen"`
}

type MonitorConfig struct {
	ID          int64               `yaml:"id"`
	Name        string              `yaml:"name"`
	Group       string              `yaml:"group"`
	Type        string              `yaml:"type"`
	URL         string              `yaml:"url"`
	Interval    int                 `yaml:"interval_seconds"`
	Timeout     int                 `yaml:"timeout_seconds"`
	Public      *bool               `yaml:"public"`
	Conditions  []string            `yaml:"conditions"`
	DNS         DNSParams           `yaml:"dns"`
	Maintenance []MaintenanceConfig `yaml:"maintenance"`
}

type DNSParams struct {
	QueryName string `yaml:"query_name"`
	QueryType string `yaml:"query_type"`
}

// MaintenanceConfig is either a fixed window (start/end timestamps)
// or a recurring daily window (start_time/end_time clock times).
// Exactly one form must be filled in.
type MaintenanceConfig struct {
	Start       string `yaml:"start"`
	End         string `yaml:"end"`
	StartTime   string `yaml:"start_time"`
	EndTime     string `yaml:"end_time"`
	Timezone    string `yaml:"timezone"`
	Description string `yaml:"description"`
}

func (m *MaintenanceConfig) IsDaily() bool {
	return m.StartTime != "" || m.EndTime != ""
}

// IsPublic defaults to true when the flag is omitted. The engine does
// not interpret the flag; it is stored for presentation layers.
func (m *MonitorConfig) IsPublic() bool {
	if m.Public == nil {
		return true
	}
	return *m.Public
}

func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			Path:                 "varuna.db",
			MaxReadConns:         4,
			RetentionDays:        90,
			HistoryRetentionDays: 365,
		},
		Engine: EngineConfig{
			Workers:           10,
			RunnerConcurrency: 20,
			DefaultTimeout:    30 * time.Second,
			FailureThreshold:  2,
			MaxJobRetries:     1,
			ClaimsPerSecond:   50,
			LeaseTimeout:      2 * time.Minute,
			DrainTimeout:      30 * time.Second,
		},
		Ops: OpsConfig{
			Listen: "127.0.0.1:9216",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateMonitors(); err != nil {
		return err
	}
	return validateLogLevel(c.Logging.Level)
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxReadConns <= 0 {
		return fmt.Errorf("database.max_read_conns must be positive")
	}
	if c.Database.RetentionDays <= 0 {
		return fmt.Errorf("database.retention_days must be positive")
	}
	if c.Database.HistoryRetentionDays <= 0 {
		return fmt.Errorf("database.history_retention_days must be positive")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if c.Engine.RunnerConcurrency <= 0 {
		return fmt.Errorf("engine.runner_concurrency must be positive")
	}
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine.default_timeout must be positive")
	}
	if c.Engine.FailureThreshold <= 0 {
		return fmt.Errorf("engine.failure_threshold must be positive")
	}
	if c.Engine.MaxJobRetries < 0 {
		return fmt.Errorf("engine.max_job_retries must not be negative")
	}
	if c.Engine.ClaimsPerSecond <= 0 {
		return fmt.Errorf("engine.claims_per_second must be positive")
	}
	if c.Engine.LeaseTimeout <= 0 {
		return fmt.Errorf("engine.lease_timeout must be positive")
	}
	return nil
}

func (c *Config) validateMonitors() error {
	seen := make(map[int64]bool, len(c.Monitors))
	for i := range c.Monitors {
		m := &c.Monitors[i]
		if m.ID <= 0 {
			return fmt.Errorf("monitors[%d].id must be a positive integer", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("monitors[%d]: duplicate id %d", i, m.ID)
		}
		seen[m.ID] = true
		if m.Name == "" {
			return fmt.Errorf("monitors[%d].name is required", i)
		}
		if !validMonitorType(m.Type) {
			return fmt.Errorf("monitors[%d].type must be one of: %s", i, strings.Join(MonitorTypes, ", "))
		}
		if m.URL == "" {
			return fmt.Errorf("monitors[%d].url is required", i)
		}
		if m.Interval < 10 {
			return fmt.Errorf("monitors[%d].interval_seconds must be at least 10", i)
		}
		if m.Timeout < 0 {
			return fmt.Errorf("monitors[%d].timeout_seconds must not be negative", i)
		}
		for j := range m.Maintenance {
			if err := validateMaintenance(&m.Maintenance[j]); err != nil {
				return fmt.Errorf("monitors[%d].maintenance[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func validateMaintenance(w *MaintenanceConfig) error {
	daily := w.StartTime != "" || w.EndTime != ""
	fixed := w.Start != "" || w.End != ""
	if daily == fixed {
		return fmt.Errorf("window must set either start/end or start_time/end_time")
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q", w.Timezone)
		}
	}
	if daily {
		for _, clock := range []string{w.StartTime, w.EndTime} {
			if _, err := time.Parse("15:04", clock); err != nil {
				return fmt.Errorf("invalid clock time %q (want HH:MM)", clock)
			}
		}
		return nil
	}
	start, err := time.Parse(time.RFC3339, w.Start)
	if err != nil {
		return fmt.Errorf("invalid start %q: %w", w.Start, err)
	}
	end, err := time.Parse(time.RFC3339, w.End)
	if err != nil {
		return fmt.Errorf("invalid end %q: %w", w.End, err)
	}
	if !start.Before(end) {
		return fmt.Errorf("start must be before end")
	}
	return nil
}

func validMonitorType(t string) bool {
	for _, known := range MonitorTypes {
		if t == known {
			return true
		}
	}
	return false
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
}

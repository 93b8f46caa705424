// Package config loads daemon and engine tuning from YAML or JSON
// files. Zero values select the documented defaults, so a partial file
// is valid.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/checklist-sync/logging"
)

// Defaults for the tunables. The millisecond values mirror the
// behavior the sync engine was tuned with in production.
const (
	DefaultGuardWindowMs   = 2000
	DefaultSyncIntervalMs  = 10000
	DefaultReloadGraceMs   = 1500
	DefaultTelemetryBuffer = 64
	DefaultLocalDSN        = "checklist.db"
	DefaultStatusRetryMs   = 500
)

// Config is the full daemon configuration.
type Config struct {
	// Sync holds the engine tunables.
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Session holds the identity-lifecycle tunables.
	Session SessionConfig `json:"session" yaml:"session"`

	// Telemetry holds the usage-tracking tunables.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Local is the SQLite snapshot store configuration.
	Local LocalConfig `json:"local" yaml:"local"`

	// Remote is the cloud backend configuration.
	Remote RemoteConfig `json:"remote" yaml:"remote"`

	// Logging configures the structured logger.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// GuardWindowMs is the self-echo suppression window after a local
	// write.
	GuardWindowMs int `json:"guard_window_ms,omitempty" yaml:"guard_window_ms,omitempty"`

	// SyncIntervalMs is the periodic push-loop interval.
	SyncIntervalMs int `json:"sync_interval_ms,omitempty" yaml:"sync_interval_ms,omitempty"`

	// StatusRetryMs is the indicator re-probe delay while no surface is
	// attached.
	StatusRetryMs int `json:"status_retry_ms,omitempty" yaml:"status_retry_ms,omitempty"`
}

// SessionConfig tunes the session lifecycle.
type SessionConfig struct {
	// ReloadGraceMs delays the post-sign-in refresh so the initial
	// pull-merge completes first.
	ReloadGraceMs int `json:"reload_grace_ms,omitempty" yaml:"reload_grace_ms,omitempty"`
}

// TelemetryConfig tunes usage tracking.
type TelemetryConfig struct {
	// Enabled turns tracking on. Defaults to true.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// BufferSize caps the event queue.
	BufferSize int `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
}

// LocalConfig configures the SQLite snapshot store.
type LocalConfig struct {
	// DSN is the SQLite database path.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// RemoteConfig configures the cloud backend.
type RemoteConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level       string `json:"level,omitempty" yaml:"level,omitempty"`
	Format      string `json:"format,omitempty" yaml:"format,omitempty"`
	AddSource   bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Sync.GuardWindowMs == 0 {
		c.Sync.GuardWindowMs = DefaultGuardWindowMs
	}
	if c.Sync.SyncIntervalMs == 0 {
		c.Sync.SyncIntervalMs = DefaultSyncIntervalMs
	}
	if c.Sync.StatusRetryMs == 0 {
		c.Sync.StatusRetryMs = DefaultStatusRetryMs
	}
	if c.Session.ReloadGraceMs == 0 {
		c.Session.ReloadGraceMs = DefaultReloadGraceMs
	}
	if c.Telemetry.Enabled == nil {
		enabled := true
		c.Telemetry.Enabled = &enabled
	}
	if c.Telemetry.BufferSize == 0 {
		c.Telemetry.BufferSize = DefaultTelemetryBuffer
	}
	if c.Local.DSN == "" {
		c.Local.DSN = DefaultLocalDSN
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = logging.EnvProduction
	}
}

// Validate reports configuration errors after defaults are applied.
func (c *Config) Validate() error {
	if c.Sync.GuardWindowMs < 0 {
		return fmt.Errorf("sync.guard_window_ms must not be negative")
	}
	if c.Sync.SyncIntervalMs <= 0 {
		return fmt.Errorf("sync.sync_interval_ms must be positive")
	}
	if c.Session.ReloadGraceMs < 0 {
		return fmt.Errorf("session.reload_grace_ms must not be negative")
	}
	if c.Telemetry.BufferSize <= 0 {
		return fmt.Errorf("telemetry.buffer_size must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// GuardWindow returns the guard window as a duration.
func (c *Config) GuardWindow() time.Duration {
	return time.Duration(c.Sync.GuardWindowMs) * time.Millisecond
}

// SyncInterval returns the push-loop interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.SyncIntervalMs) * time.Millisecond
}

// StatusRetry returns the indicator re-probe delay as a duration.
func (c *Config) StatusRetry() time.Duration {
	return time.Duration(c.Sync.StatusRetryMs) * time.Millisecond
}

// ReloadGrace returns the post-sign-in refresh delay as a duration.
func (c *Config) ReloadGrace() time.Duration {
	return time.Duration(c.Session.ReloadGraceMs) * time.Millisecond
}

// Load reads a YAML or JSON configuration file, applies defaults and
// validates the result. The format is selected by file extension;
// anything but .json parses as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, strings.HasSuffix(strings.ToLower(path), ".json"))
}

// Parse decodes configuration bytes, applies defaults and validates.
func Parse(data []byte, asJSON bool) (*Config, error) {
	c := &Config{}
	if asJSON {
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

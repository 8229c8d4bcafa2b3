// Package config provides configuration types for ipc-gate.
//
// The configuration is file based (YAML) with environment overrides. It
// covers the parent side of a session: which executable serves each peer
// role, how calls are filtered and observed, and how the process logs.
// Workers spawned with the -ipcfd convention take no configuration.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for ipc-gate.
type Config struct {
	// Log configures the process logger.
	Log LogConfig `yaml:"log" mapstructure:"log"`

	// Processes maps a peer role to the executable spawned for it. The
	// executable is looked up next to the running binary.
	// Defaults to {"worker": "ipc-worker"}.
	Processes map[string]string `yaml:"processes" mapstructure:"processes" validate:"required,min=1,dive,keys,required,endkeys,exe_name"`

	// Metrics configures the Prometheus and health endpoint.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Tracing configures per-call spans.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Policy filters inbound calls.
	// Optional: when no rules are configured every call is admitted.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Audit configures the call audit log.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Call configures the session driven by "ipc-gate start".
	Call CallConfig `yaml:"call" mapstructure:"call"`

	// Shutdown configures process teardown.
	Shutdown ShutdownConfig `yaml:"shutdown" mapstructure:"shutdown"`

	// DevMode enables development features (debug logging, stderr traces).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// Format selects the handler: "text", "json", or "auto" (text on a
	// terminal, JSON otherwise). Defaults to "auto".
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=auto text json"`
}

// MetricsConfig configures the HTTP endpoint serving /metrics and /health.
type MetricsConfig struct {
	// Enabled controls whether the endpoint is started.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the address to listen on. Defaults to "127.0.0.1:9464".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// TracingConfig configures OpenTelemetry spans.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output is where spans are written: "stderr", "stdout" or "discard".
	// Defaults to "stderr".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,oneof=stderr stdout discard"`

	// SampleRatio is the fraction of root spans sampled, in [0, 1].
	// Defaults to 1.
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio" validate:"min=0,max=1"`
}

// PolicyConfig defines the inbound call filter.
type PolicyConfig struct {
	// DefaultAction applies when no rule matches: "allow" or "deny".
	// Defaults to "allow".
	DefaultAction string `yaml:"default_action" mapstructure:"default_action" validate:"omitempty,oneof=allow deny"`

	// Rules are evaluated by ascending priority; first match wins.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// RuleConfig defines a single call filter rule.
type RuleConfig struct {
	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Priority orders evaluation (lower first).
	Priority int `yaml:"priority" mapstructure:"priority"`

	// Match is a glob over "Interface.Method" (e.g. "Init.*").
	// Empty matches every call.
	Match string `yaml:"match" mapstructure:"match"`

	// Condition is a CEL expression over interface, method, cap, args,
	// role, conn_id and request_time. Empty means always.
	Condition string `yaml:"condition" mapstructure:"condition" validate:"omitempty,cel_expr"`

	// Action is "allow" or "deny".
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=allow deny"`
}

// AuditConfig configures where audited calls are written.
type AuditConfig struct {
	// Output is "stdout", "file:///absolute/path/to/calls.log", or empty to
	// keep records in memory only.
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,audit_output"`

	// BufferSize is the number of recent calls kept in memory and served on
	// /calls. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// FilePath returns the file named by a "file://" output, or "".
func (a AuditConfig) FilePath() string {
	path, ok := strings.CutPrefix(a.Output, "file://")
	if !ok {
		return ""
	}
	return path
}

// CallConfig configures the long-running session.
type CallConfig struct {
	// HeartbeatInterval is how often the worker is pinged (e.g. "10s").
	// Defaults to "10s".
	HeartbeatInterval string `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval" validate:"omitempty,duration"`

	// Timeout bounds a single call (e.g. "5s"). Defaults to "5s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// ShutdownConfig configures teardown.
type ShutdownConfig struct {
	// Timeout is how long a peer gets to exit after its connection is
	// closed before it is killed (e.g. "5s"). Defaults to "5s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// SetDevDefaults applies development defaults. They are applied before
// validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Log.Level = "debug"
	if c.Tracing.Output == "" || c.Tracing.Output == "discard" {
		c.Tracing.Output = "stderr"
	}
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}

	if len(c.Processes) == 0 {
		c.Processes = map[string]string{"worker": "ipc-worker"}
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9464"
	}

	if c.Tracing.Output == "" {
		c.Tracing.Output = "stderr"
	}
	// Zero is a valid ratio: viper.IsSet distinguishes "not set" from an
	// explicit 0.
	if c.Tracing.SampleRatio == 0 && !viper.IsSet("tracing.sample_ratio") {
		c.Tracing.SampleRatio = 1
	}

	if c.Policy.DefaultAction == "" {
		c.Policy.DefaultAction = "allow"
	}

	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}

	if c.Call.HeartbeatInterval == "" {
		c.Call.HeartbeatInterval = "10s"
	}
	if c.Call.Timeout == "" {
		c.Call.Timeout = "5s"
	}
	if c.Shutdown.Timeout == "" {
		c.Shutdown.Timeout = "5s"
	}
}

// HeartbeatInterval returns the parsed heartbeat interval.
func (c *Config) HeartbeatInterval() time.Duration {
	return parseDuration(c.Call.HeartbeatInterval, 10*time.Second)
}

// CallTimeout returns the parsed per-call timeout.
func (c *Config) CallTimeout() time.Duration {
	return parseDuration(c.Call.Timeout, 5*time.Second)
}

// ShutdownTimeout returns the parsed shutdown grace period.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Shutdown.Timeout, 5*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "auto")
	}
	if got := cfg.Processes["worker"]; got != "ipc-worker" {
		t.Errorf("Processes[worker] = %q, want %q", got, "ipc-worker")
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should default to false")
	}
	if cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, "127.0.0.1:9464")
	}
	if cfg.Tracing.Output != "stderr" {
		t.Errorf("Tracing.Output = %q, want %q", cfg.Tracing.Output, "stderr")
	}
	if cfg.Tracing.SampleRatio != 1 {
		t.Errorf("Tracing.SampleRatio = %v, want 1", cfg.Tracing.SampleRatio)
	}
	if cfg.Policy.DefaultAction != "allow" {
		t.Errorf("Policy.DefaultAction = %q, want %q", cfg.Policy.DefaultAction, "allow")
	}
	if cfg.Audit.Output != "" || cfg.Audit.BufferSize != 1000 {
		t.Errorf("Audit = %+v, want no output and a 1000 record buffer", cfg.Audit)
	}
	if cfg.HeartbeatInterval() != 10*time.Second {
		t.Errorf("HeartbeatInterval() = %v, want 10s", cfg.HeartbeatInterval())
	}
	if cfg.CallTimeout() != 5*time.Second {
		t.Errorf("CallTimeout() = %v, want 5s", cfg.CallTimeout())
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 5s", cfg.ShutdownTimeout())
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Log:       LogConfig{Level: "warn", Format: "json"},
		Processes: map[string]string{"calc": "calc-worker"},
		Metrics:   MetricsConfig{Addr: ":9100"},
		Tracing:   TracingConfig{Output: "discard", SampleRatio: 0.25},
		Policy:    PolicyConfig{DefaultAction: "deny"},
		Call:      CallConfig{HeartbeatInterval: "1m"},
	}
	cfg.SetDefaults()

	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want warn/json", cfg.Log)
	}
	if len(cfg.Processes) != 1 || cfg.Processes["calc"] != "calc-worker" {
		t.Errorf("Processes = %v, want only calc", cfg.Processes)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr was overwritten: got %q", cfg.Metrics.Addr)
	}
	if cfg.Tracing.Output != "discard" || cfg.Tracing.SampleRatio != 0.25 {
		t.Errorf("Tracing = %+v, want discard/0.25", cfg.Tracing)
	}
	if cfg.Policy.DefaultAction != "deny" {
		t.Errorf("Policy.DefaultAction was overwritten: got %q", cfg.Policy.DefaultAction)
	}
	if cfg.HeartbeatInterval() != time.Minute {
		t.Errorf("HeartbeatInterval() = %v, want 1m", cfg.HeartbeatInterval())
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true, Log: LogConfig{Level: "error"}, Tracing: TracingConfig{Output: "discard"}}
	cfg.SetDevDefaults()
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug in dev mode", cfg.Log.Level)
	}
	if cfg.Tracing.Output != "stderr" {
		t.Errorf("Tracing.Output = %q, want stderr in dev mode", cfg.Tracing.Output)
	}

	off := Config{Log: LogConfig{Level: "error"}}
	off.SetDevDefaults()
	if off.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want untouched outside dev mode", off.Log.Level)
	}
}

func TestConfig_DurationFallbacks(t *testing.T) {
	t.Parallel()

	cfg := Config{Call: CallConfig{HeartbeatInterval: "soon", Timeout: "-1s"}}
	if got := cfg.HeartbeatInterval(); got != 10*time.Second {
		t.Errorf("HeartbeatInterval() = %v, want fallback 10s", got)
	}
	if got := cfg.CallTimeout(); got != 5*time.Second {
		t.Errorf("CallTimeout() = %v, want fallback 5s", got)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()
	cfg.Policy.Rules = []RuleConfig{{Name: "no-fail", Match: "Init.Fail", Action: "deny"}}

	data, err := Marshal(&cfg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	for _, want := range []string{"processes:", "worker: ipc-worker", "default_action: allow", "match: Init.Fail"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Marshal() output missing %q:\n%s", want, data)
		}
	}

	var back Config
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("yaml.Unmarshal() error: %v", err)
	}
	if back.Policy.Rules[0].Name != "no-fail" || back.Metrics.Addr != cfg.Metrics.Addr {
		t.Errorf("round trip = %+v, want %+v", back, cfg)
	}
}

// TestLoadConfig_FileAndEnv uses the global viper instance, so it must not
// run in parallel.
func TestLoadConfig_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "ipc-gate.yaml")
	content := `
log:
  level: warn
processes:
  worker: my-worker
tracing:
  enabled: true
  sample_ratio: 0
policy:
  default_action: deny
  rules:
    - name: allow-ping
      match: Init.Ping
      action: allow
    - name: small-adds
      match: Init.Add
      condition: "args[0] < 100"
      action: allow
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IPC_GATE_METRICS_ADDR", "127.0.0.1:9999")

	InitViper(path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed() = %q, want %q", ConfigFileUsed(), path)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Processes["worker"] != "my-worker" {
		t.Errorf("Processes[worker] = %q, want my-worker", cfg.Processes["worker"])
	}
	if cfg.Metrics.Addr != "127.0.0.1:9999" {
		t.Errorf("Metrics.Addr = %q, want env override", cfg.Metrics.Addr)
	}
	if cfg.Tracing.SampleRatio != 0 {
		t.Errorf("Tracing.SampleRatio = %v, want explicit 0 kept", cfg.Tracing.SampleRatio)
	}
	rules := cfg.PolicyRules()
	if len(rules) != 2 || rules[1].Condition != "args[0] < 100" || rules[0].Action != "allow" {
		t.Errorf("PolicyRules() = %+v", rules)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "ipc-gate.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	InitViper(path)
	_, err := LoadConfig()
	if err == nil {
		t.Fatal("LoadConfig() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Config.Log.Level must be one of") {
		t.Errorf("error = %q, want a Log.Level message", err.Error())
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ipc-gate.yml")
	_ = os.WriteFile(cfgPath, []byte("log:\n  level: debug\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "ipc-gate" with no extension
	_ = os.WriteFile(filepath.Join(dir, "ipc-gate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "ipc-gate.yaml")
	ymlPath := filepath.Join(dir, "ipc-gate.yml")
	_ = os.WriteFile(yamlPath, []byte("log:\n  level: info\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("log:\n  level: debug\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}

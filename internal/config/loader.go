package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for ipc-gate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the ipc-gate binary itself
// is never picked up as its configuration.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers
		// treat as "environment only".
		viper.SetConfigName("ipc-gate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: IPC_GATE_METRICS_ADDR
	viper.SetEnvPrefix("IPC_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an ipc-gate config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".ipc-gate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "ipc-gate"))
		}
	} else {
		paths = append(paths, "/etc/ipc-gate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for ipc-gate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "ipc-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the scalar config keys for environment variable support.
// Example: IPC_GATE_LOG_LEVEL overrides log.level
func bindNestedEnvKeys() {
	_ = viper.BindEnv("log.level")
	_ = viper.BindEnv("log.format")

	// Note: processes is a map, use the config file for it.

	_ = viper.BindEnv("metrics.enabled")
	_ = viper.BindEnv("metrics.addr")

	_ = viper.BindEnv("tracing.enabled")
	_ = viper.BindEnv("tracing.output")
	_ = viper.BindEnv("tracing.sample_ratio")

	_ = viper.BindEnv("policy.default_action")
	// Note: policy.rules is an array, use the config file for it.

	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.buffer_size")

	_ = viper.BindEnv("call.heartbeat_interval")
	_ = viper.BindEnv("call.timeout")
	_ = viper.BindEnv("shutdown.timeout")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, validates and returns the Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

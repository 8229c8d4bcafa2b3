// Package cmd provides the CLI commands for ipc-gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/ipcgate/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	devMode   bool
)

var rootCmd = &cobra.Command{
	Use:   "ipc-gate",
	Short: "ipc-gate - typed RPC between cooperating processes",
	Long: `ipc-gate spawns worker processes and talks to them over a private
socket with typed, capability-based calls.

Each peer role (e.g. "worker") maps to an executable next to ipc-gate. The
worker is started as "<exe> -ipcfd 3" with its end of a socket pair on
descriptor 3, and serves its root object there.

Configuration:
  Config is loaded from ipc-gate.yaml in the current directory,
  $HOME/.ipc-gate/, or /etc/ipc-gate/.

  Environment variables can override config values with the IPC_GATE_ prefix.
  Example: IPC_GATE_METRICS_ADDR=127.0.0.1:9100

Commands:
  start       Launch the worker and keep a session open
  call        Launch the worker and make a single call
  describe    Print the registered interfaces
  config      Print the effective configuration
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ipc-gate.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log.format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, traces on stderr)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads the configuration and applies CLI flag overrides before
// validation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg)
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if devMode {
		cfg.DevMode = true
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

// Package main is the entry point for the relay CLI.
//
// Usage:
//
//	relay run                      # Connect and relay events until interrupted
//	relay events                   # Print the stored event log
//	relay endpoint show            # Print the stored server URL
//	relay endpoint set <url>       # Store a new server URL
//	relay version                  # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/binacloud/relay/internal/config"
	"github.com/binacloud/relay/pkg/logger"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var flags struct {
	serverURL string
	dashboard string
	debug     bool
	logLevel  string
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay server events to local surfaces",
	Long: `relay subscribes to the event server's broadcast topic, keeps the ten
most recent events on disk and forwards every event to the console, an
optional Pushover account and an optional HTTP dashboard.

Configuration is read from $RELAY_HOME/config.yaml (or $RELAY_CONFIG) and
RELAY_* environment variables. Flags override both.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "relay %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.serverURL, "server-url", "", "event server base URL (overrides config)")
	pf.StringVar(&flags.dashboard, "dashboard", "", "dashboard listen address, e.g. :8090 (overrides config)")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration, applies flag overrides and sets the
// log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.serverURL != "" {
		cfg.ServerURL = flags.serverURL
	}
	if flags.dashboard != "" {
		cfg.DashboardAddr = flags.dashboard
	}
	if flags.debug {
		cfg.Debug = true
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	level := logger.LevelInfo
	if cfg.Debug {
		level = logger.LevelDebug
	}
	if cfg.LogLevel != "" {
		if level, err = logger.ParseLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	logger.SetLevel(level)

	if cfg.Debug {
		logger.Debugf("config: server=%s transport=%s store=%s home=%s file=%s",
			cfg.ServerURL, cfg.Transport, cfg.Store, cfg.RelayHome, cfg.File)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

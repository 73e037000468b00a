package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stone-age-io/hostscan/internal/agent"
	"github.com/stone-age-io/hostscan/internal/config"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "hostscan",
	Short: "Host inventory, port and vulnerability scanner",
	Long: `HostScan inventories the local host (system identity, interfaces,
installed software, processes, accounts, filesystems and security posture),
probes TCP ports with SYN packets, correlates the installed software with
public advisory feeds and writes a plain text report.

It runs once from the command line or continuously as an agent that scans
on a schedule and optionally reports over NATS.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// These either need no config or load it themselves
		skipConfig := map[string]bool{
			"version":   true,
			"help":      true,
			"agent":     true,
			"install":   true,
			"uninstall": true,
			"start":     true,
			"stop":      true,
			"restart":   true,
			"run":       true,
		}
		if skipConfig[cmd.Name()] {
			return nil
		}

		var err error
		cfg, err = config.Load(resolveConfigPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Interactive commands log to stderr only so stdout stays the report
		logger, err = agent.NewLogger(config.LoggingConfig{Level: logLevel}, os.Stderr)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: "+config.GetDefaultConfigPath()+" if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "console log level for interactive commands (debug, info, warn, error)")
	rootCmd.Version = version
}

// resolveConfigPath returns the --config value, or the platform default
// when it exists, or "" to run on built-in defaults
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat(config.GetDefaultConfigPath()); err == nil {
		return config.GetDefaultConfigPath()
	}
	return ""
}

// absConfigPath is the config path a service manager should be given
func absConfigPath() (string, error) {
	path := resolveConfigPath()
	if path == "" {
		return "", fmt.Errorf("no config file found; pass --config or create %s", config.GetDefaultConfigPath())
	}
	return filepath.Abs(path)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func main() {
	if err := Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airq-visualizer/backend/internal/config"
	"github.com/airq-visualizer/backend/internal/logging"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "airq",
	Short:         "Air quality map and dashboard server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: airq.yaml next to the executable)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(simulateCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s (built %s)\n", Version, BuildTime)
	},
}

// resolveConfigPath defaults to a config file next to the executable.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), "airq.yaml"), nil
}

// loadRuntime loads the config and builds the logger every command shares.
func loadRuntime() (*config.AppConfig, logr.Logger, func(), error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, logr.Discard(), nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, logr.Discard(), nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, closer, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, logr.Discard(), nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, log.WithValues("config", path), func() { closer.Close() }, nil
}

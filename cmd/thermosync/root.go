package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshp123/thermosync/internal/config"
	"github.com/joshp123/thermosync/internal/logging"
)

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "thermosync",
	Short: "ThermoSmart thermostat sync daemon",
	Long: `thermosync keeps paired ThermoSmart thermostats in sync by combining
periodic polling with vendor webhooks, and exposes them over HTTP, gRPC,
WebSocket and MQTT.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", envOr("THERMOSYNC_CONFIG", config.DefaultPath), "Config file path (env: THERMOSYNC_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override logging.level: debug, info, warn, error")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("thermosync %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file. A missing file at the default path falls
// back to defaults plus environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && flagConfig == config.DefaultPath {
			return config.Parse(nil)
		}
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logCfg := cfg.Logging
	if flagLogLevel != "" {
		logCfg.Level = flagLogLevel
	}
	logger := logging.New(logCfg, rootCmd.Version)
	slog.SetDefault(logger)
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

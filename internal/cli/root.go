// Package cli wires the daemon's command line: cobra commands over the
// YAML config file, with viper layering environment and flag overrides on
// top (SOFTSTEPD_IN_PORT, SOFTSTEPD_LOG_LEVEL, ...).
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pedalworks/softstepd/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "softstepd",
	Short: "Session daemon for the SoftStep foot controller",
	Long: `softstepd drives a SoftStep 2 foot controller: it finds the pedal's
MIDI ports, verifies the device identity, and runs the mode machine that
maps key presses to mode changes, LED feedback and standalone presets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: platform config dir)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error (overrides the config file)")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("softstepd")
	viper.AutomaticEnv()
}

// loadConfig reads the config file and applies the viper overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}
	if v := viper.GetString("in_port"); v != "" {
		cfg.InPort = v
	}
	if v := viper.GetString("out_port"); v != "" {
		cfg.OutPort = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

func newLogger(level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	})), nil
}

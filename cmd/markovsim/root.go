package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"markovsim/internal/config"
	"markovsim/internal/logging"
)

var (
	configPath string
	schemaPath string
	logLevel   string
	envFile    string

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config

	// logOutput receives every log line. Stdout is left to step output.
	logOutput io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "markovsim",
	Short: "Markov chain user-behavior simulator",
	Long: "markovsim walks Markov chains of user behavior and broadcasts every visited " +
		"state to registered agents over HTTP.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		c, err := config.Load(configPath, schemaPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c
		_, err = setLogger(logOutput)
		return err
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration YAML")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Optional extra CUE schema for the configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(chainsCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// loadEnvFile loads path into the environment. A missing file is only an
// error when it is not the default.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == ".env" {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// setLogger installs the configured logger writing to w as the default.
func setLogger(w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewWriter(w, level, cfg.Log.Format)
	slog.SetDefault(logger)
	return logger, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/config"
	"github.com/holomush/holoauth/internal/logging"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// serviceName identifies holoauth in logs and error reports.
const serviceName = "holoauth"

// NewRootCmd creates the root command for the holoauth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holoauth",
		Short: "holoauth - account and session service",
		Long: `holoauth registers user accounts and issues sessions: short-lived
signed access tokens plus rotating refresh tokens kept in PostgreSQL.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/holoauth/config.yaml)")
	flags.StringVar(&envFile, "env-file", "", "dotenv file to load (default: ./.env when present)")
	flags.String("addr", "", "HTTP API listen address")
	flags.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json or text)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCleanupCmd())
	cmd.AddCommand(NewAccountCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// loadConfig reads the layered configuration, letting the command's flags
// override every other source.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(config.LoadOptions{
		ConfigFile: configFile,
		EnvFile:    envFile,
		Flags:      cmd.Flags(),
	})
}

// commandLogger builds a logger for one-shot commands. It writes to the
// command's error stream so output stays machine readable.
func commandLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.Setup(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, cmd.ErrOrStderr())
}

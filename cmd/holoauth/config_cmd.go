// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration holoauth would run with, after defaults, the
.env file, the config file, the environment and flags are merged. Secrets are
redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runConfigShow(cmd, cfg)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check that the configuration is complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runConfigValidate(cmd, cfg)
		},
	})

	return cmd
}

func runConfigShow(cmd *cobra.Command, cfg *config.Config) error {
	out, err := cfg.DumpYAML()
	if err != nil {
		return err
	}
	cmd.Print(string(out))
	return nil
}

func runConfigValidate(cmd *cobra.Command, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cmd.Println("Configuration is valid")
	return nil
}

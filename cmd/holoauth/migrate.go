// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/config"
	"github.com/holomush/holoauth/internal/store"
)

// NewMigrateCmd creates the migrate subcommand. Without a subcommand it
// applies all pending migrations.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply, inspect or roll back the embedded PostgreSQL schema migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, nil, runMigrateUp)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, nil, runMigrateUp)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all auth data)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, nil, runMigrateDown)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, nil, runMigrateVersion)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it",
		Long: `Mark a version as applied without running it. Use this to clear the
dirty flag after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, nil, func(cmd *cobra.Command, m Migrator) error {
				return runMigrateForce(cmd, m, target)
			})
		},
	})
	cmd.AddCommand(newMigrateStatusCmd())

	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, nil, func(cmd *cobra.Command, m Migrator) error {
				return runMigrateStatus(cmd, m, jsonOutput)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	return cmd
}

// withMigrator loads the configuration, opens a migrator and runs fn with it.
// If deps is nil, default implementations are used.
func withMigrator(cmd *cobra.Command, deps *MigrateDeps, fn func(*cobra.Command, Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return runWithMigrator(cmd, cfg, deps, fn)
}

func runWithMigrator(cmd *cobra.Command, cfg *config.Config, deps *MigrateDeps, fn func(*cobra.Command, Migrator) error) error {
	deps = deps.withDefaults()

	databaseURL, err := getDatabaseURL(cfg)
	if err != nil {
		return err
	}

	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			cmd.PrintErrf("Warning: failed to close migrator: %v\n", closeErr)
		}
	}()

	return fn(cmd, migrator)
}

func runMigrateUp(cmd *cobra.Command, m Migrator) error {
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return err
	}
	current, _, err := m.Version()
	if err != nil {
		return err
	}
	cmd.Printf("Migrations completed successfully (version %d)\n", current)
	return nil
}

func runMigrateDown(cmd *cobra.Command, m Migrator) error {
	cmd.Println("Rolling back all migrations...")
	if err := m.Down(); err != nil {
		return err
	}
	cmd.Println("Rollback completed successfully")
	return nil
}

func runMigrateVersion(cmd *cobra.Command, m Migrator) error {
	current, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("%d (dirty)\n", current)
		return nil
	}
	cmd.Printf("%d\n", current)
	return nil
}

func runMigrateForce(cmd *cobra.Command, m Migrator, target int) error {
	if err := m.Force(target); err != nil {
		return err
	}
	cmd.Printf("Forced version %d\n", target)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, m Migrator, jsonOutput bool) error {
	status, err := m.Status()
	if err != nil {
		return err
	}
	if jsonOutput {
		output, err := formatMigrationStatusJSON(status)
		if err != nil {
			return err
		}
		cmd.Println(output)
		return nil
	}
	cmd.Print(formatMigrationStatusTable(status))
	return nil
}

// migrationStatusView is the JSON shape of migrate status.
type migrationStatusView struct {
	Version uint   `json:"version"`
	Name    string `json:"name,omitempty"`
	Dirty   bool   `json:"dirty"`
	Applied []uint `json:"applied"`
	Pending []uint `json:"pending"`
}

func formatMigrationStatusJSON(status *store.MigrationStatus) (string, error) {
	view := migrationStatusView{
		Version: status.Version,
		Name:    status.Name,
		Dirty:   status.Dirty,
		Applied: nonNil(status.Applied),
		Pending: nonNil(status.Pending),
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", oops.Code("FORMAT_FAILED").With("operation", "marshal migration status").Wrap(err)
	}
	return string(data), nil
}

func formatMigrationStatusTable(status *store.MigrationStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	current := fmt.Sprintf("%d", status.Version)
	if status.Name != "" {
		current += " (" + status.Name + ")"
	}
	if status.Dirty {
		current += " DIRTY"
	}

	_, _ = fmt.Fprintf(w, "Current:\t%s\n", current)
	_, _ = fmt.Fprintf(w, "Applied:\t%s\n", joinVersions(status.Applied))
	_, _ = fmt.Fprintf(w, "Pending:\t%s\n", joinVersions(status.Pending))

	_ = w.Flush()
	return string(buf)
}

func joinVersions(versions []uint) string {
	if len(versions) == 0 {
		return "none"
	}
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

func nonNil(versions []uint) []uint {
	if versions == nil {
		return []uint{}
	}
	return versions
}

// parseForceVersion parses the version argument of migrate force.
func parseForceVersion(arg string) (int, error) {
	if strings.TrimSpace(arg) == "" {
		return 0, oops.Code("INVALID_VERSION").Errorf("version is required")
	}
	var target int
	if _, err := fmt.Sscanf(arg, "%d", &target); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("version", arg).Wrap(err)
	}
	return target, nil
}

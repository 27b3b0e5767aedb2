// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/config"
)

// AccountSummary is the operator view of an account.
type AccountSummary struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// accountListConfig holds configuration for account list.
type accountListConfig struct {
	includeDeleted bool
	jsonOutput     bool
}

// NewAccountCmd creates the account subcommand and its children.
func NewAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect and administer accounts",
		Long: `Inspect and administer accounts directly in the database. Restoring a
soft-deleted account is only possible from here.`,
	}

	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountRestoreCmd())
	cmd.AddCommand(newAccountDeleteCmd())

	return cmd
}

func newAccountListCmd() *cobra.Command {
	cfg := &accountListConfig{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runAccountListWithDeps(cmd.Context(), cmd, appCfg, cfg, nil)
		},
	}

	cmd.Flags().BoolVar(&cfg.includeDeleted, "deleted", false, "include soft-deleted accounts")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output accounts as JSON")

	return cmd
}

func newAccountRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a soft-deleted account",
		Long: `Restore a soft-deleted account. Fails when the username or email has
been taken by another account in the meantime.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runAccountRestoreWithDeps(cmd.Context(), cmd, appCfg, args[0], nil)
		},
	}
}

func newAccountDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runAccountDeleteWithDeps(cmd.Context(), cmd, appCfg, args[0], nil)
		},
	}
}

// withAccountService opens the backend, builds an AccountService on it and
// runs fn.
func withAccountService(ctx context.Context, cmd *cobra.Command, cfg *config.Config, deps *StorageDeps, fn func(context.Context, *auth.AccountService) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	if _, err := getDatabaseURL(cfg); err != nil {
		return err
	}

	logger := commandLogger(cmd, cfg)
	backend, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	directory, err := auth.NewDirectory(backend.Accounts)
	if err != nil {
		return err
	}
	service, err := auth.NewAccountService(directory, auth.NewArgon2idHasher(), logger)
	if err != nil {
		return err
	}
	return fn(ctx, service)
}

func runAccountListWithDeps(ctx context.Context, cmd *cobra.Command, appCfg *config.Config, cfg *accountListConfig, deps *StorageDeps) error {
	return withAccountService(ctx, cmd, appCfg, deps, func(ctx context.Context, service *auth.AccountService) error {
		res := service.List(ctx, cfg.includeDeleted)
		if !res.OK() {
			return resultError(res)
		}

		summaries := make([]AccountSummary, 0, len(res.Value))
		for _, account := range res.Value {
			summaries = append(summaries, summarizeAccount(account))
		}

		if cfg.jsonOutput {
			output, err := formatAccountsJSON(summaries)
			if err != nil {
				return err
			}
			cmd.Println(output)
			return nil
		}
		cmd.Print(formatAccountsTable(summaries))
		return nil
	})
}

func runAccountRestoreWithDeps(ctx context.Context, cmd *cobra.Command, appCfg *config.Config, rawID string, deps *StorageDeps) error {
	id, err := parseAccountID(rawID)
	if err != nil {
		return err
	}
	return withAccountService(ctx, cmd, appCfg, deps, func(ctx context.Context, service *auth.AccountService) error {
		res := service.Restore(ctx, id)
		if !res.OK() {
			return resultError(res)
		}
		cmd.Printf("Restored account %s (%s)\n", res.Value.ID, res.Value.Username)
		return nil
	})
}

func runAccountDeleteWithDeps(ctx context.Context, cmd *cobra.Command, appCfg *config.Config, rawID string, deps *StorageDeps) error {
	id, err := parseAccountID(rawID)
	if err != nil {
		return err
	}
	return withAccountService(ctx, cmd, appCfg, deps, func(ctx context.Context, service *auth.AccountService) error {
		if res := service.Delete(ctx, id); !res.OK() {
			return resultError(res)
		}
		cmd.Printf("Deleted account %s\n", id)
		return nil
	})
}

func parseAccountID(raw string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ACCOUNT_ID").With("id", raw).Wrap(err)
	}
	return id, nil
}

// resultError turns a failed Result into an error carrying its kind as the
// code. Internal causes are kept for the operator.
func resultError[T any](res auth.Result[T]) error {
	builder := oops.Code(string(res.Kind))
	if len(res.Fields) > 0 {
		builder = builder.With("fields", res.Fields)
	}
	if cause := res.Cause(); cause != nil && res.Kind == auth.KindInternal {
		return builder.Wrap(cause)
	}
	return builder.Errorf("%s", res.Message)
}

func summarizeAccount(account *auth.Account) AccountSummary {
	return AccountSummary{
		ID:        account.ID.String(),
		Username:  account.Username,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
		DeletedAt: account.DeletedAt,
	}
}

// formatAccountsTable formats accounts as a human-readable table.
func formatAccountsTable(accounts []AccountSummary) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tCREATED\tSTATUS")
	_, _ = fmt.Fprintln(w, "--\t--------\t-----\t-------\t------")

	for _, a := range accounts {
		state := "active"
		if a.DeletedAt != nil {
			state = "deleted " + a.DeletedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Username, a.Email, a.CreatedAt.UTC().Format(time.RFC3339), state)
	}

	_ = w.Flush()
	return string(buf)
}

// formatAccountsJSON formats accounts as JSON.
func formatAccountsJSON(accounts []AccountSummary) (string, error) {
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return "", oops.Code("FORMAT_FAILED").With("operation", "marshal accounts").Wrap(err)
	}
	return string(data), nil
}

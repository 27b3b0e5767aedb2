// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/config"
	"github.com/holomush/holoauth/pkg/errutil"
)

// tokenSweeper deletes refresh tokens that stopped mattering.
type tokenSweeper interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// runCleanupLoop sweeps stale refresh tokens every interval until ctx ends.
// record, when set, receives the number of deleted rows per sweep.
func runCleanupLoop(ctx context.Context, sweeper tokenSweeper, interval, retention time.Duration, logger *slog.Logger, record func(int64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepRefreshTokens(ctx, sweeper, retention, logger, record)
		}
	}
}

func sweepRefreshTokens(ctx context.Context, sweeper tokenSweeper, retention time.Duration, logger *slog.Logger, record func(int64)) {
	deleted, err := sweeper.Cleanup(ctx, retention)
	if err != nil {
		if ctx.Err() == nil {
			errutil.LogErrorContext(ctx, logger, "refresh token cleanup failed", err)
		}
		return
	}
	if record != nil {
		record(deleted)
	}
	if deleted > 0 {
		logger.InfoContext(ctx, "stale refresh tokens deleted", "deleted", deleted, "retention", retention)
	}
}

// cleanupConfig holds the cleanup command's own flags.
type cleanupConfig struct {
	retention time.Duration
}

// NewCleanupCmd creates the cleanup subcommand.
func NewCleanupCmd() *cobra.Command {
	opts := &cleanupConfig{}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stale refresh tokens",
		Long: `Delete refresh tokens that expired or were revoked longer ago than the
retention window. serve runs the same sweep periodically.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runCleanupWithDeps(cmd.Context(), cmd, cfg, opts, nil)
		},
	}

	cmd.Flags().DurationVar(&opts.retention, "retention", 0, "retention window (default: refresh.retention)")

	return cmd
}

// runCleanupWithDeps performs a single sweep. If deps is nil, default
// implementations are used.
func runCleanupWithDeps(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts *cleanupConfig, deps *StorageDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	if _, err := getDatabaseURL(cfg); err != nil {
		return err
	}
	retention := cfg.Refresh.Retention
	if opts != nil && opts.retention > 0 {
		retention = opts.retention
	}

	logger := commandLogger(cmd, cfg)
	backend, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	manager, err := auth.NewRefreshTokenManager(backend.Tokens, logger)
	if err != nil {
		return err
	}
	deleted, err := manager.Cleanup(ctx, retention)
	if err != nil {
		return err
	}

	cmd.Printf("Deleted %d stale refresh tokens (retention %s)\n", deleted, retention)
	return nil
}

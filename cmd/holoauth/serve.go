// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/config"
	"github.com/holomush/holoauth/internal/logging"
	"github.com/holomush/holoauth/internal/observability"
	"github.com/holomush/holoauth/internal/web"
	"github.com/holomush/holoauth/pkg/errutil"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	readinessTimeout       = 2 * time.Second
)

// serveConfig holds the serve command's own flags.
type serveConfig struct {
	autoMigrate bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	opts := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API that registers accounts and issues, refreshes and
revokes sessions. Metrics and health probes are served on a separate address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cmd, cfg, opts, nil)
		},
	}

	cmd.Flags().BoolVar(&opts.autoMigrate, "auto-migrate", true, "apply pending database migrations on startup")

	return cmd
}

// runServeWithDeps runs the API until a signal arrives, ctx is cancelled or a
// listener fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts *serveConfig, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})

	reporting, err := observability.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment, version)
	if err != nil {
		return err
	}
	if reporting {
		defer observability.FlushSentry()
		logger.Info("error reporting enabled", "environment", cfg.Sentry.Environment)
	}

	if opts != nil && opts.autoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			return err
		}
	}

	backend, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open backend").Wrap(err)
	}
	defer backend.close()
	logger.Info("connected to database")

	signer, err := auth.NewTokenSigner(auth.SignerConfig{
		Key:       []byte(cfg.JWT.Key),
		Issuer:    cfg.JWT.Issuer,
		Audiences: cfg.JWT.Audience,
		TTL:       cfg.JWT.AccessTTL,
	})
	if err != nil {
		return err
	}
	hasher := auth.NewArgon2idHasher()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		obsServer   ObservabilityServer
		serviceOpts []auth.ServiceOption
		recordSweep func(int64)
	)
	webOpts := []web.Option{web.WithSecureCookies(cfg.Server.SecureCookies)}
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, backendReadiness(backend))
		metrics := obsServer.Metrics()
		serviceOpts = append(serviceOpts, auth.WithRecorder(metrics))
		webOpts = append(webOpts, web.WithObserver(metrics))
		recordSweep = metrics.RecordCleanup
	}

	service, err := auth.NewAuthServiceWithLogger(backend.Accounts, backend.Tokens, hasher, signer, logger, serviceOpts...)
	if err != nil {
		return err
	}
	accounts, err := auth.NewAccountService(service.Directory(), hasher, logger)
	if err != nil {
		return err
	}

	api, err := web.NewServer(service, accounts, logger, webOpts...)
	if err != nil {
		return err
	}
	apiErrChan, err := api.Start(cfg.Server.Addr)
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if stopErr := api.Stop(shutdownCtx); stopErr != nil {
				slog.Warn("failed to stop api server during cleanup", "error", stopErr)
			}
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	sweepDone := make(chan struct{})
	if cfg.Refresh.CleanupInterval > 0 {
		go func() {
			defer close(sweepDone)
			runCleanupLoop(ctx, service.RefreshTokens(), cfg.Refresh.CleanupInterval, cfg.Refresh.Retention, logger, recordSweep)
		}()
	} else {
		close(sweepDone)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("holoauth started")
	logger.Info("holoauth ready",
		"addr", api.Addr(),
		"audiences", cfg.JWT.Audience,
		"secure_cookies", cfg.Server.SecureCookies,
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()
	<-sweepDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := api.Stop(shutdownCtx); err != nil {
		errutil.LogError(logger, "error stopping api server", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogError(logger, "error stopping observability server", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// autoMigrate applies pending migrations before the service starts.
func autoMigrate(databaseURL string, factory func(string) (AutoMigrator, error), logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			errutil.LogError(logger, "failed to close migrator", closeErr)
		}
	}()

	logger.Info("applying database migrations")
	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	return nil
}

// backendReadiness reports ready while the backend answers a ping.
func backendReadiness(backend *Backend) observability.ReadinessChecker {
	return func() bool {
		if backend.Ping == nil {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()
		return backend.Ping(ctx) == nil
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

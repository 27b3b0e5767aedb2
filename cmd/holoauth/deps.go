// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/auth/postgres"
	"github.com/holomush/holoauth/internal/config"
	"github.com/holomush/holoauth/internal/observability"
	"github.com/holomush/holoauth/internal/store"
)

// Backend is the storage the auth services run on.
type Backend struct {
	Accounts auth.AccountRepository
	Tokens   auth.RefreshTokenRepository
	// Ping reports whether the storage is reachable. Nil means always.
	Ping func(ctx context.Context) error
	// Close releases the storage. Nil means nothing to release.
	Close func()
}

func (b *Backend) close() {
	if b.Close != nil {
		b.Close()
	}
}

// BackendFactory opens the storage described by cfg.
type BackendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error)

// AutoMigrator is the part of store.Migrator serve uses.
type AutoMigrator interface {
	Up() error
	Close() error
}

// Migrator is the part of store.Migrator the migrate command uses.
type Migrator interface {
	AutoMigrator
	Down() error
	Force(version int) error
	Version() (uint, bool, error)
	Status() (*store.MigrationStatus, error)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// BackendFactory opens the account and refresh token storage.
	// Default: openPostgresBackend
	BackendFactory BackendFactory

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.BackendFactory == nil {
		out.BackendFactory = openPostgresBackend
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	return &out
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory creates a migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	out := MigrateDeps{}
	if d != nil {
		out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	return &out
}

// StorageDeps contains injectable dependencies for commands that only need
// the storage, such as cleanup and account.
type StorageDeps struct {
	// BackendFactory opens the account and refresh token storage.
	// Default: openPostgresBackend
	BackendFactory BackendFactory
}

func (d *StorageDeps) withDefaults() *StorageDeps {
	out := StorageDeps{}
	if d != nil {
		out = *d
	}
	if out.BackendFactory == nil {
		out.BackendFactory = openPostgresBackend
	}
	return &out
}

// openPostgresBackend connects to PostgreSQL and wraps the pool in the pgx
// repositories.
func openPostgresBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	pool, err := store.Connect(ctx, cfg.Database.URL, logger, store.ConnectOptions{
		MaxConns: cfg.Database.MaxConns,
		Attempts: cfg.Database.ConnectAttempts,
		Backoff:  cfg.Database.ConnectBackoff,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{
		Accounts: postgres.NewAccountRepository(pool),
		Tokens:   postgres.NewRefreshTokenRepository(pool),
		Ping:     pool.Ping,
		Close:    pool.Close,
	}, nil
}

// getDatabaseURL returns the configured database URL, or an error when it is
// missing.
func getDatabaseURL(cfg *config.Config) (string, error) {
	url := strings.TrimSpace(cfg.Database.URL)
	if url == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("database.url is required (set DATABASE_URL or --database-url)")
	}
	return url, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/holoauth/internal/store"
)

// setupPostgresContainer starts PostgreSQL, applies the migrations and
// returns a connected pool.
func setupPostgresContainer() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("holoauth_test"),
		postgres.WithUsername("holoauth"),
		postgres.WithPassword("holoauth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}
	defer migrator.Close() //nolint:errcheck // test setup
	if err := migrator.Up(); err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool, err := store.Connect(ctx, connStr, logger, store.ConnectOptions{Attempts: 3, Backoff: 100 * time.Millisecond})
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup, nil
}

func insertAccount(ctx context.Context, pool *pgxpool.Pool, username, email string, deleted bool) (string, error) {
	id := ulid.Make().String()
	var deletedAt *time.Time
	if deleted {
		now := time.Now().UTC()
		deletedAt = &now
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, deleted_at)
		VALUES ($1, $2, $3, 'hash', $4)
	`, id, username, email, deletedAt)
	return id, err
}

var _ = Describe("Auth schema", Ordered, func() {
	var (
		pool    *pgxpool.Pool
		cleanup func()
		ctx     context.Context
	)

	BeforeAll(func() {
		var err error
		pool, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if cleanup != nil {
			cleanup()
		}
	})

	BeforeEach(func() {
		ctx = context.Background()
		_, err := pool.Exec(ctx, `TRUNCATE accounts CASCADE`)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("account uniqueness", func() {
		It("rejects a second active account with the same username", func() {
			_, err := insertAccount(ctx, pool, "alice", "alice@example.com", false)
			Expect(err).NotTo(HaveOccurred())

			_, err = insertAccount(ctx, pool, "alice", "other@example.com", false)
			var pgErr *pgconn.PgError
			Expect(errors.As(err, &pgErr)).To(BeTrue())
			Expect(pgErr.ConstraintName).To(Equal("accounts_username_active_key"))
		})

		It("rejects a second active account with the same email", func() {
			_, err := insertAccount(ctx, pool, "alice", "alice@example.com", false)
			Expect(err).NotTo(HaveOccurred())

			_, err = insertAccount(ctx, pool, "bob", "alice@example.com", false)
			var pgErr *pgconn.PgError
			Expect(errors.As(err, &pgErr)).To(BeTrue())
			Expect(pgErr.ConstraintName).To(Equal("accounts_email_active_key"))
		})

		It("allows reuse of a deleted account's username and email", func() {
			_, err := insertAccount(ctx, pool, "alice", "alice@example.com", true)
			Expect(err).NotTo(HaveOccurred())

			_, err = insertAccount(ctx, pool, "alice", "alice@example.com", false)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("refresh tokens", func() {
		It("are removed with their account", func() {
			accountID, err := insertAccount(ctx, pool, "carol", "carol@example.com", false)
			Expect(err).NotTo(HaveOccurred())

			tokenID := ulid.Make().String()
			_, err = pool.Exec(ctx, `
				INSERT INTO refresh_tokens (id, family_id, account_id, token_hash, issued_at, expires_at)
				VALUES ($1, $1, $2, 'h1', NOW(), NOW() + INTERVAL '7 days')
			`, tokenID, accountID)
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
			Expect(err).NotTo(HaveOccurred())

			var count int
			Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM refresh_tokens`).Scan(&count)).To(Succeed())
			Expect(count).To(BeZero())
		})

		It("reject duplicate token hashes", func() {
			accountID, err := insertAccount(ctx, pool, "dave", "dave@example.com", false)
			Expect(err).NotTo(HaveOccurred())

			insert := `
				INSERT INTO refresh_tokens (id, family_id, account_id, token_hash, issued_at, expires_at)
				VALUES ($1, $1, $2, 'same', NOW(), NOW() + INTERVAL '7 days')
			`
			_, err = pool.Exec(ctx, insert, ulid.Make().String(), accountID)
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, insert, ulid.Make().String(), accountID)
			var pgErr *pgconn.PgError
			Expect(errors.As(err, &pgErr)).To(BeTrue())
			Expect(pgErr.Code).To(Equal(pgerrcode.UniqueViolation))
		})
	})
})

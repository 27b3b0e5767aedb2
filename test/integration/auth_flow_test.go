// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/holoauth/internal/auth"
	authpg "github.com/holomush/holoauth/internal/auth/postgres"
	"github.com/holomush/holoauth/internal/store"
	"github.com/holomush/holoauth/internal/web"
)

const (
	clientID = "web"
	password = "Sup3r$ecret"
)

// testEnv holds all the resources needed for integration tests.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	service   *auth.Service
	server    *web.Server
	baseURL   string
	client    *http.Client
}

// setupTestEnv starts PostgreSQL, migrates it and serves the API on a
// loopback port.
func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel, client: &http.Client{Timeout: 5 * time.Second}}

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
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.pool, err = store.Connect(ctx, connStr, logger, store.ConnectOptions{})
	if err != nil {
		env.cleanup()
		return nil, err
	}

	signer, err := auth.NewTokenSigner(auth.SignerConfig{
		Key:       []byte("0123456789abcdef0123456789abcdef"),
		Issuer:    "holoauth-integration",
		Audiences: []string{clientID},
	})
	if err != nil {
		env.cleanup()
		return nil, err
	}
	hasher := auth.NewArgon2idHasher()

	env.service, err = auth.NewAuthServiceWithLogger(
		authpg.NewAccountRepository(env.pool),
		authpg.NewRefreshTokenRepository(env.pool),
		hasher, signer, logger,
	)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	accounts, err := auth.NewAccountService(env.service.Directory(), hasher, logger)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.server, err = web.NewServer(env.service, accounts, logger, web.WithSecureCookies(false))
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if _, err := env.server.Start("127.0.0.1:0"); err != nil {
		env.cleanup()
		return nil, err
	}
	env.baseURL = "http://" + env.server.Addr()

	return env, nil
}

// cleanup releases all test resources.
func (env *testEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.server != nil {
		_ = env.server.Stop(ctx)
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
	env.cancel()
}

type envelope struct {
	Data    json.RawMessage  `json:"data"`
	Message string           `json:"message"`
	Errors  []web.FieldError `json:"errors"`
}

type apiResponse struct {
	status  int
	body    envelope
	refresh *http.Cookie
}

type call struct {
	method string
	path   string
	body   string
	bearer string
	cookie *http.Cookie
}

func (env *testEnv) do(c call) apiResponse {
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(env.ctx, c.method, env.baseURL+c.path, body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.HeaderClientID, clientID)
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}

	resp, err := env.client.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	out := apiResponse{status: resp.StatusCode}
	Expect(json.NewDecoder(resp.Body).Decode(&out.body)).To(Succeed())
	for _, cookie := range resp.Cookies() {
		if cookie.Name == web.RefreshCookieName {
			out.refresh = cookie
		}
	}
	return out
}

// register creates an account and returns its id.
func (env *testEnv) register(username, email string) string {
	resp := env.do(call{
		method: http.MethodPost,
		path:   "/auth/register",
		body:   `{"username":"` + username + `","email":"` + email + `","password":"` + password + `"}`,
	})
	Expect(resp.status).To(Equal(http.StatusCreated), resp.body.Message)

	var account struct {
		ID string `json:"id"`
	}
	Expect(json.Unmarshal(resp.body.Data, &account)).To(Succeed())
	return account.ID
}

// login returns the access token and refresh cookie of a new session.
func (env *testEnv) login(email string) (string, *http.Cookie) {
	resp := env.do(call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   `{"email":"` + email + `","password":"` + password + `"}`,
	})
	Expect(resp.status).To(Equal(http.StatusOK), resp.body.Message)
	Expect(resp.refresh).NotTo(BeNil())

	var tokens struct {
		AccessToken string `json:"accessToken"`
	}
	Expect(json.Unmarshal(resp.body.Data, &tokens)).To(Succeed())
	Expect(tokens.AccessToken).NotTo(BeEmpty())
	return tokens.AccessToken, resp.refresh
}

func (env *testEnv) countTokens(query string, args ...any) int {
	var n int
	Expect(env.pool.QueryRow(env.ctx, query, args...).Scan(&n)).To(Succeed())
	return n
}

var _ = Describe("Auth flow against PostgreSQL", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if env != nil {
			env.cleanup()
		}
	})

	Describe("registration", func() {
		It("creates an account and rejects duplicates", func() {
			env.register("alice", "alice@example.com")

			resp := env.do(call{
				method: http.MethodPost,
				path:   "/auth/register",
				body:   `{"username":"alice","email":"ALICE@example.com","password":"` + password + `"}`,
			})
			Expect(resp.status).To(Equal(http.StatusConflict))
			Expect(resp.body.Errors).To(ConsistOf(
				web.FieldError{Field: auth.FieldUsername, Message: "already taken"},
				web.FieldError{Field: auth.FieldEmail, Message: "already taken"},
			))
		})
	})

	Describe("sessions", func() {
		It("validates the access token of a fresh login", func() {
			access, _ := env.login("alice@example.com")

			resp := env.do(call{method: http.MethodGet, path: "/auth/validate", bearer: access})
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(string(resp.body.Data)).To(ContainSubstring(`"username":"alice"`))
		})

		It("rotates refresh tokens and revokes the family on reuse", func() {
			_, first := env.login("alice@example.com")

			rotated := env.do(call{method: http.MethodPost, path: "/auth/refresh", cookie: first})
			Expect(rotated.status).To(Equal(http.StatusOK))
			Expect(rotated.refresh).NotTo(BeNil())
			Expect(rotated.refresh.Value).NotTo(Equal(first.Value))

			reused := env.do(call{method: http.MethodPost, path: "/auth/refresh", cookie: first})
			Expect(reused.status).To(Equal(http.StatusUnauthorized))

			successor := env.do(call{method: http.MethodPost, path: "/auth/refresh", cookie: rotated.refresh})
			Expect(successor.status).To(Equal(http.StatusUnauthorized))

			Expect(env.countTokens(
				`SELECT COUNT(*) FROM refresh_tokens WHERE token_hash = $1 AND revoked_at IS NOT NULL`,
				auth.HashRefreshToken(rotated.refresh.Value),
			)).To(Equal(1))
		})

		It("logs out once", func() {
			_, cookie := env.login("alice@example.com")

			resp := env.do(call{method: http.MethodPost, path: "/auth/logout", cookie: cookie})
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.refresh).NotTo(BeNil())
			Expect(resp.refresh.Value).To(BeEmpty())

			again := env.do(call{method: http.MethodPost, path: "/auth/logout", cookie: cookie})
			Expect(again.status).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("cleanup", func() {
		It("deletes revoked tokens past retention", func() {
			deleted, err := env.service.RefreshTokens().Cleanup(env.ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeNumerically(">=", 1))
			Expect(env.countTokens(`SELECT COUNT(*) FROM refresh_tokens WHERE revoked_at IS NOT NULL`)).To(Equal(0))
		})
	})

	Describe("soft delete", func() {
		It("frees the username and email", func() {
			id := env.register("bob", "bob@example.com")
			access, _ := env.login("bob@example.com")

			resp := env.do(call{method: http.MethodDelete, path: "/users/" + id, bearer: access})
			Expect(resp.status).To(Equal(http.StatusOK))

			login := env.do(call{
				method: http.MethodPost,
				path:   "/auth/login",
				body:   `{"email":"bob@example.com","password":"` + password + `"}`,
			})
			Expect(login.status).To(Equal(http.StatusBadRequest))

			env.register("bob", "bob@example.com")
		})
	})
})

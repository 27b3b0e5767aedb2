// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/auth/authtest"
)

// testClock is a settable clock shared by the service and signer.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type flowFixture struct {
	svc      *auth.Service
	accounts *authtest.AccountStore
	tokens   *authtest.RefreshTokenStore
	clock    *testClock
	recorder *recordingRecorder
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	f := &flowFixture{
		accounts: authtest.NewAccountStore(),
		tokens:   authtest.NewRefreshTokenStore(),
		clock:    &testClock{now: time.Now().UTC().Truncate(time.Second)},
		recorder: &recordingRecorder{},
	}
	signer := newTestSigner(t, f.clock.Now)
	svc, err := auth.NewAuthServiceWithLogger(f.accounts, f.tokens, auth.NewArgon2idHasher(), signer, discardLogger(),
		auth.WithClock(f.clock.Now), auth.WithRecorder(f.recorder))
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *flowFixture) register(t *testing.T, username, email, password string) *auth.Account {
	t.Helper()
	res := f.svc.Register(context.Background(), auth.RegisterInput{Username: username, Email: email, Password: password})
	require.True(t, res.OK(), res.Message)
	return res.Value
}

func (f *flowFixture) login(t *testing.T, email, password string) *auth.Session {
	t.Helper()
	res := f.svc.Login(context.Background(), auth.LoginInput{Email: email, Password: password, ClientID: "app1"})
	require.True(t, res.OK(), res.Message)
	return res.Value
}

func TestServiceFlow_RegisterLoginRefreshLogout(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t)

	reg := f.svc.Register(ctx, auth.RegisterInput{Username: "bob", Email: "bob@x.com", Password: "Str0ng!pwd"})
	require.True(t, reg.OK(), reg.Message)
	assert.True(t, reg.Created)

	login := f.svc.Login(ctx, auth.LoginInput{Email: "bob@x.com", Password: "Str0ng!pwd", ClientID: "app1"})
	require.True(t, login.OK(), login.Message)
	assert.Equal(t, reg.Value.ID, login.Value.AccountID)

	f.clock.Advance(time.Minute)
	refreshed := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: login.Value.RefreshToken, ClientID: "app1"})
	require.True(t, refreshed.OK(), refreshed.Message)
	assert.NotEqual(t, login.Value.AccessToken, refreshed.Value.AccessToken)
	assert.NotEqual(t, login.Value.RefreshToken, refreshed.Value.RefreshToken)

	validated := f.svc.Validate(ctx, refreshed.Value.AccessToken, "app1")
	require.True(t, validated.OK(), validated.Message)
	assert.Equal(t, "bob", validated.Value.Username)

	logout := f.svc.Logout(ctx, refreshed.Value.RefreshToken)
	require.True(t, logout.OK(), logout.Message)

	again := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: refreshed.Value.RefreshToken, ClientID: "app1"})
	assert.Equal(t, auth.KindUnauthorized, again.Kind)
}

func TestServiceFlow_RegistrationConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t)
	f.register(t, "alice", "a@x.com", "Str0ng!pwd")

	tests := []struct {
		name     string
		username string
		email    string
		fields   []string
	}{
		{"username only", "alice", "b@y.com", []string{auth.FieldUsername}},
		{"email only", "bob", "a@x.com", []string{auth.FieldEmail}},
		{"both", "alice", "A@X.com", []string{auth.FieldUsername, auth.FieldEmail}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.svc.Register(ctx, auth.RegisterInput{Username: tt.username, Email: tt.email, Password: "Str0ng!pwd"})
			assert.Equal(t, auth.KindConflict, res.Kind)
			assert.Equal(t, tt.fields, res.Fields)
		})
	}
}

func TestServiceFlow_RefreshTokenReuseRevokesFamily(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t)
	f.register(t, "bob", "bob@x.com", "Str0ng!pwd")
	session := f.login(t, "bob@x.com", "Str0ng!pwd")

	first := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken, ClientID: "app1"})
	require.True(t, first.OK(), first.Message)

	reused := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken, ClientID: "app1"})
	assert.Equal(t, auth.KindUnauthorized, reused.Kind)
	assert.Equal(t, 1, f.recorder.reuses)

	successor := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: first.Value.RefreshToken, ClientID: "app1"})
	assert.Equal(t, auth.KindUnauthorized, successor.Kind)

	for _, tok := range f.tokens.Tokens() {
		assert.True(t, tok.IsRevoked(), "token %s should be revoked", tok.ID)
	}
}

func TestServiceFlow_RefreshWithDisallowedAudienceKeepsToken(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t)
	f.register(t, "bob", "bob@x.com", "Str0ng!pwd")
	session := f.login(t, "bob@x.com", "Str0ng!pwd")

	rejected := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken, ClientID: "app9"})
	assert.Equal(t, auth.KindUnauthorized, rejected.Kind)
	assert.Equal(t, auth.MsgInvalidClient, rejected.Message)

	accepted := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken, ClientID: "app2"})
	require.True(t, accepted.OK(), accepted.Message)
}

func TestServiceFlow_RefreshTokenExpiryBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted one second before expiry", func(t *testing.T) {
		f := newFlowFixture(t)
		f.register(t, "bob", "bob@x.com", "Str0ng!pwd")
		session := f.login(t, "bob@x.com", "Str0ng!pwd")

		f.clock.Advance(auth.RefreshTokenExpiry - time.Second)
		res := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken, ClientID: "app1"})
		assert.True(t, res.OK(), res.Message)
	})

	t.Run("rejected one second after expiry", func(t *testing.T) {
		f := newFlowFixture(t)
		f.register(t, "bob", "bob@x.com", "Str0ng!pwd")
		session := f.login(t, "bob@x.com", "Str0ng!pwd")

		f.clock.Advance(auth.RefreshTokenExpiry + time.Second)
		res := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken, ClientID: "app1"})
		assert.Equal(t, auth.KindUnauthorized, res.Kind)
	})
}

func TestServiceFlow_TamperedRefreshTokenIsUnknown(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t)
	f.register(t, "bob", "bob@x.com", "Str0ng!pwd")
	session := f.login(t, "bob@x.com", "Str0ng!pwd")

	tampered := []byte(session.RefreshToken)
	tampered[0] ^= 0x01

	_, err := f.svc.RefreshTokens().Redeem(ctx, string(tampered))
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestServiceFlow_LogoutIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t)
	f.register(t, "bob", "bob@x.com", "Str0ng!pwd")
	session := f.login(t, "bob@x.com", "Str0ng!pwd")

	require.True(t, f.svc.Logout(ctx, session.RefreshToken).OK())

	second := f.svc.Logout(ctx, session.RefreshToken)
	assert.Equal(t, auth.KindUnauthorized, second.Kind)

	tokens := f.tokens.Tokens()
	require.Len(t, tokens, 1)
	revokedAt := *tokens[0].RevokedAt

	// revoking directly again keeps the original revocation time
	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.RefreshTokens().Revoke(ctx, tokens[0].ID))
	assert.Equal(t, revokedAt, *f.tokens.Tokens()[0].RevokedAt)
}

func TestServiceFlow_RefreshForDeletedAccount(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t)
	account := f.register(t, "bob", "bob@x.com", "Str0ng!pwd")
	session := f.login(t, "bob@x.com", "Str0ng!pwd")

	require.NoError(t, f.svc.Directory().SoftDelete(ctx, account.ID))

	res := f.svc.Refresh(ctx, auth.RefreshInput{RefreshToken: session.RefreshToken, ClientID: "app1"})
	assert.Equal(t, auth.KindUnauthorized, res.Kind)

	login := f.svc.Login(ctx, auth.LoginInput{Email: "bob@x.com", Password: "Str0ng!pwd", ClientID: "app1"})
	assert.Equal(t, auth.KindInvalidCredentials, login.Kind)
}

func TestServiceFlow_LoginRefreshPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t)
	f.register(t, "bob", "bob@x.com", "Str0ng!pwd")
	f.tokens.CreateErr = errors.New("disk full")

	res := f.svc.Login(ctx, auth.LoginInput{Email: "bob@x.com", Password: "Str0ng!pwd", ClientID: "app1"})
	assert.Equal(t, auth.KindInternal, res.Kind)
	assert.Nil(t, res.Value)
	assert.Empty(t, f.tokens.Tokens())
}

func TestServiceFlow_LoginUpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t)
	account := f.register(t, "bob", "bob@x.com", "Str0ng!pwd")

	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte("Str0ng!pwd"), salt, 1, 8192, 2, 32)
	legacy := fmt.Sprintf("$argon2id$v=%d$m=8192,t=1,p=2$%s$%s", argon2.Version,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key))
	_, err := f.accounts.Update(ctx, account.ID, auth.AccountUpdate{PasswordHash: &legacy}, f.clock.Now())
	require.NoError(t, err)

	res := f.svc.Login(ctx, auth.LoginInput{Email: "bob@x.com", Password: "Str0ng!pwd", ClientID: "app1"})
	require.True(t, res.OK(), res.Message)

	stored, err := f.accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEqual(t, legacy, stored.PasswordHash)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$v=19$m=19456,t=2,p=1$"))
	assert.True(t, auth.NewArgon2idHasher().Verify("Str0ng!pwd", stored.PasswordHash))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/pkg/errutil"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func newTestSigner(t *testing.T, now func() time.Time) *auth.TokenSigner {
	t.Helper()
	signer, err := auth.NewTokenSigner(auth.SignerConfig{
		Key:       testSigningKey,
		Issuer:    "holoauth-test",
		Audiences: []string{"app1", "app2"},
		Now:       now,
	})
	require.NoError(t, err)
	return signer
}

func TestNewTokenSigner_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  auth.SignerConfig
	}{
		{"missing key", auth.SignerConfig{Issuer: "iss", Audiences: []string{"app1"}}},
		{"missing issuer", auth.SignerConfig{Key: testSigningKey, Audiences: []string{"app1"}}},
		{"missing audiences", auth.SignerConfig{Key: testSigningKey, Issuer: "iss"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := auth.NewTokenSigner(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, signer)
			errutil.AssertErrorCode(t, err, "TOKEN_CONFIG_INVALID")
		})
	}
}

func TestParseAudiences(t *testing.T) {
	assert.Equal(t, []string{"app1", "app2"}, auth.ParseAudiences(" app1, ,app2 ,"))
	assert.Nil(t, auth.ParseAudiences(""))
	assert.Nil(t, auth.ParseAudiences(" , "))
}

func TestTokenSigner_Issue(t *testing.T) {
	signer := newTestSigner(t, nil)
	accountID := ulid.Make()

	t.Run("allowed audience produces token with claims", func(t *testing.T) {
		before := time.Now()
		tok, err := signer.Issue(accountID, "app1")
		require.NoError(t, err)
		assert.Equal(t, "app1", tok.Audience)
		assert.Equal(t, accountID.String(), tok.Subject)
		assert.WithinDuration(t, before.Add(auth.AccessTokenExpiry), tok.ExpiresAt, 2*time.Second)

		claims := &jwt.RegisteredClaims{}
		parsed, err := jwt.ParseWithClaims(tok.Token, claims, func(*jwt.Token) (any, error) {
			return testSigningKey, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "HS256", parsed.Method.Alg())
		assert.Equal(t, jwt.ClaimStrings{"app1"}, claims.Audience)
		assert.Equal(t, "holoauth-test", claims.Issuer)
		assert.Equal(t, accountID.String(), claims.Subject)
	})

	t.Run("audience outside allow-list is rejected", func(t *testing.T) {
		tok, err := signer.Issue(accountID, "app3")
		require.Error(t, err)
		assert.Nil(t, tok)
		errutil.AssertErrorCode(t, err, "AUTH_AUDIENCE_REJECTED")
	})

	t.Run("empty client id is rejected", func(t *testing.T) {
		_, err := signer.Issue(accountID, "")
		errutil.AssertErrorCode(t, err, "AUTH_AUDIENCE_REJECTED")
	})
}

func TestTokenSigner_Verify(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	signer := newTestSigner(t, clock)
	accountID := ulid.Make()

	tok, err := signer.Issue(accountID, "app1")
	require.NoError(t, err)

	t.Run("valid token returns subject", func(t *testing.T) {
		sub, err := signer.Verify(tok.Token, "app1")
		require.NoError(t, err)
		assert.Equal(t, accountID.String(), sub)
	})

	t.Run("other allowed audience is rejected", func(t *testing.T) {
		_, err := signer.Verify(tok.Token, "app2")
		errutil.AssertErrorCode(t, err, "TOKEN_BAD_AUDIENCE")
	})

	t.Run("unknown audience is rejected", func(t *testing.T) {
		_, err := signer.Verify(tok.Token, "app9")
		errutil.AssertErrorCode(t, err, "TOKEN_BAD_AUDIENCE")
	})

	t.Run("expired token is rejected without leeway", func(t *testing.T) {
		later := newTestSigner(t, func() time.Time { return now.Add(auth.AccessTokenExpiry + time.Second) })
		_, err := later.Verify(tok.Token, "app1")
		errutil.AssertErrorCode(t, err, "TOKEN_EXPIRED")
	})

	t.Run("token is accepted just before expiry", func(t *testing.T) {
		later := newTestSigner(t, func() time.Time { return now.Add(auth.AccessTokenExpiry - time.Second) })
		_, err := later.Verify(tok.Token, "app1")
		require.NoError(t, err)
	})

	t.Run("different key is a bad signature", func(t *testing.T) {
		other, err := auth.NewTokenSigner(auth.SignerConfig{
			Key:       []byte("another-key-another-key-another-k"),
			Issuer:    "holoauth-test",
			Audiences: []string{"app1"},
			Now:       clock,
		})
		require.NoError(t, err)
		_, err = other.Verify(tok.Token, "app1")
		errutil.AssertErrorCode(t, err, "TOKEN_BAD_SIGNATURE")
	})

	t.Run("different issuer is rejected", func(t *testing.T) {
		other, err := auth.NewTokenSigner(auth.SignerConfig{
			Key:       testSigningKey,
			Issuer:    "someone-else",
			Audiences: []string{"app1"},
			Now:       clock,
		})
		require.NoError(t, err)
		_, err = other.Verify(tok.Token, "app1")
		errutil.AssertErrorCode(t, err, "TOKEN_BAD_ISSUER")
	})

	t.Run("non-HS256 algorithm is rejected", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   accountID.String(),
			Audience:  jwt.ClaimStrings{"app1"},
			Issuer:    "holoauth-test",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSigningKey)
		require.NoError(t, err)
		_, err = signer.Verify(raw, "app1")
		errutil.AssertErrorCode(t, err, "TOKEN_BAD_SIGNATURE")
	})

	t.Run("garbage is malformed", func(t *testing.T) {
		_, err := signer.Verify("not.a.jwt", "app1")
		errutil.AssertErrorCode(t, err, "TOKEN_MALFORMED")
	})
}

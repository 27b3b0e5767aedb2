// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AccessTokenExpiry is the lifetime of a signed access token.
const AccessTokenExpiry = 15 * time.Minute

// SignerConfig configures a TokenSigner.
type SignerConfig struct {
	// Key is the HMAC key. Required.
	Key []byte
	// Issuer is written to and required in the iss claim. Required.
	Issuer string
	// Audiences is the allow-list of client IDs. At least one is required.
	Audiences []string
	// TTL overrides AccessTokenExpiry when positive.
	TTL time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// AccessToken is a signed bearer credential.
type AccessToken struct {
	Token     string
	Subject   string
	Audience  string
	ExpiresAt time.Time
}

// TokenSigner issues and verifies HS256 access tokens.
// It is immutable after construction and safe for concurrent use.
type TokenSigner struct {
	key       []byte
	issuer    string
	audiences []string
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenSigner creates a TokenSigner from cfg.
func NewTokenSigner(cfg SignerConfig) (*TokenSigner, error) {
	if len(cfg.Key) == 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("signing key is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("issuer is required")
	}
	if len(cfg.Audiences) == 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("at least one audience is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = AccessTokenExpiry
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &TokenSigner{
		key:       slices.Clone(cfg.Key),
		issuer:    cfg.Issuer,
		audiences: slices.Clone(cfg.Audiences),
		ttl:       ttl,
		now:       now,
	}, nil
}

// ParseAudiences splits a comma-separated audience list, trimming entries and
// dropping empty ones.
func ParseAudiences(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if aud := strings.TrimSpace(part); aud != "" {
			out = append(out, aud)
		}
	}
	return out
}

// Allows reports whether clientID is in the audience allow-list.
func (s *TokenSigner) Allows(clientID string) bool {
	return clientID != "" && slices.Contains(s.audiences, clientID)
}

// Issue signs an access token for accountID scoped to clientID.
func (s *TokenSigner) Issue(accountID ulid.ULID, clientID string) (*AccessToken, error) {
	if !s.Allows(clientID) {
		return nil, oops.Code("AUTH_AUDIENCE_REJECTED").
			With("client_id", clientID).
			Errorf("client is not an allowed audience")
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		Audience:  jwt.ClaimStrings{clientID},
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}

	return &AccessToken{
		Token:     signed,
		Subject:   claims.Subject,
		Audience:  clientID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks signature, issuer, audience and expiry with no leeway and
// returns the subject.
func (s *TokenSigner) Verify(token, clientID string) (string, error) {
	if !s.Allows(clientID) {
		return "", oops.Code("TOKEN_BAD_AUDIENCE").
			With("client_id", clientID).
			Errorf("client is not an allowed audience")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(0),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", classifyTokenError(err)
	}
	if claims.Subject == "" {
		return "", oops.Code("TOKEN_MALFORMED").Errorf("token has no subject")
	}
	return claims.Subject, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return oops.Code("TOKEN_EXPIRED").Wrap(err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return oops.Code("TOKEN_BAD_SIGNATURE").Wrap(err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return oops.Code("TOKEN_BAD_AUDIENCE").Wrap(err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return oops.Code("TOKEN_BAD_ISSUER").Wrap(err)
	default:
		return oops.Code("TOKEN_MALFORMED").Wrap(err)
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Refresh token configuration.
const (
	RefreshTokenBytes  = 64                 // raw entropy before base64
	RefreshTokenExpiry = 7 * 24 * time.Hour // fixed window, not sliding
)

// RefreshToken is the stored record of a single renewable credential.
// The raw token is never stored; TokenHash identifies it.
type RefreshToken struct {
	ID         ulid.ULID
	FamilyID   ulid.ULID
	AccountID  ulid.ULID
	TokenHash  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	IsUsed     bool
	ReplacedBy *ulid.ULID
	UserAgent  string
	IPAddress  string
}

// IssueContext is request metadata captured on a refresh token for audit.
type IssueContext struct {
	UserAgent string
	IPAddress string
}

// NewRefreshToken creates a validated RefreshToken issued at issuedAt.
// A zero familyID starts a new family rooted at the new token.
func NewRefreshToken(accountID, familyID ulid.ULID, tokenHash string, meta IssueContext, issuedAt time.Time) (*RefreshToken, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("REFRESH_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("REFRESH_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if issuedAt.IsZero() {
		return nil, oops.Code("REFRESH_INVALID_ISSUED_AT").Errorf("issue time cannot be zero")
	}

	id := ulid.Make()
	if familyID.Compare(ulid.ULID{}) == 0 {
		familyID = id
	}

	return &RefreshToken{
		ID:        id,
		FamilyID:  familyID,
		AccountID: accountID,
		TokenHash: tokenHash,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(RefreshTokenExpiry),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
	}, nil
}

// IsRevoked returns true if the token has been revoked.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpiredAt returns true if the token is expired at the given time.
// A token is valid strictly before ExpiresAt.
func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsableAt reports whether the token may be redeemed at the given time.
func (t *RefreshToken) IsUsableAt(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpiredAt(now) && !t.IsUsed
}

// GenerateRefreshToken creates a random token and its storage hash.
// Returns (plaintext_token, hash, error).
func GenerateRefreshToken() (token, hash string, err error) {
	raw := make([]byte, RefreshTokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("REFRESH_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", RefreshTokenBytes).
			Wrap(err)
	}

	token = base64.StdEncoding.EncodeToString(raw)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken returns the base64-encoded SHA-256 of a raw token.
// Raw tokens carry enough entropy that no salt is needed.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// RefreshTokenRepository manages refresh token persistence.
type RefreshTokenRepository interface {
	// Create stores a new refresh token.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByTokenHash retrieves a token by its hash.
	// Returns ErrNotFound if no token matches.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Rotate atomically marks oldID used, pointing at next, and stores next.
	// Returns ErrTokenConsumed if oldID was already used or revoked.
	Rotate(ctx context.Context, oldID ulid.ULID, next *RefreshToken) error

	// Revoke sets revoked_at if it is not set yet.
	// Returns ErrNotFound if no token has the ID.
	Revoke(ctx context.Context, id ulid.ULID, at time.Time) error

	// RevokeFamily revokes every unrevoked token in a family and returns the count.
	RevokeFamily(ctx context.Context, familyID ulid.ULID, at time.Time) (int64, error)

	// DeleteStale removes tokens that expired or were revoked before the cutoff.
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

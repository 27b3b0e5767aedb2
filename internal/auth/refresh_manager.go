// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshTokenManager enforces the refresh token state machine:
// ISSUED -> USED | REVOKED | EXPIRED, all terminal.
type RefreshTokenManager struct {
	tokens RefreshTokenRepository
	logger *slog.Logger
	now    func() time.Time
}

// RefreshManagerOption configures a RefreshTokenManager.
type RefreshManagerOption func(*RefreshTokenManager)

// WithRefreshClock overrides the manager clock.
func WithRefreshClock(now func() time.Time) RefreshManagerOption {
	return func(m *RefreshTokenManager) {
		m.now = now
	}
}

// NewRefreshTokenManager creates a RefreshTokenManager.
func NewRefreshTokenManager(tokens RefreshTokenRepository, logger *slog.Logger, opts ...RefreshManagerOption) (*RefreshTokenManager, error) {
	if tokens == nil {
		return nil, oops.Errorf("refresh token repository is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}

	m := &RefreshTokenManager{
		tokens: tokens,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue creates and persists a refresh token starting a new family.
// Returns the raw token for the client and the stored record.
func (m *RefreshTokenManager) Issue(ctx context.Context, accountID ulid.ULID, meta IssueContext) (string, *RefreshToken, error) {
	raw, hash, err := GenerateRefreshToken()
	if err != nil {
		return "", nil, err
	}

	token, err := NewRefreshToken(accountID, ulid.ULID{}, hash, meta, m.now())
	if err != nil {
		return "", nil, err
	}

	if err := m.tokens.Create(ctx, token); err != nil {
		return "", nil, oops.Code("REFRESH_PERSIST_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return raw, token, nil
}

// Redeem looks up a raw token and checks that it is usable. It does not
// change the token state.
//
// Unknown and tampered tokens both yield REFRESH_NOT_FOUND. Revoked and
// expired tokens both yield REFRESH_INVALID. Rotated tokens yield REFRESH_USED.
func (m *RefreshTokenManager) Redeem(ctx context.Context, raw string) (*RefreshToken, error) {
	token, err := m.lookup(ctx, raw)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if token.IsRevoked() || token.IsExpiredAt(now) {
		return nil, invalidTokenError(token)
	}
	if token.IsUsed {
		return nil, oops.Code("REFRESH_USED").
			With("token_id", token.ID.String()).
			Errorf("refresh token already used")
	}
	return token, nil
}

// Rotate redeems raw, marks it used and issues its successor in the same
// family. Presenting a token that was already rotated revokes the whole
// family and yields REFRESH_REUSED.
func (m *RefreshTokenManager) Rotate(ctx context.Context, raw string, meta IssueContext) (string, *RefreshToken, error) {
	current, err := m.lookup(ctx, raw)
	if err != nil {
		return "", nil, err
	}

	now := m.now()
	if current.IsRevoked() || current.IsExpiredAt(now) {
		return "", nil, invalidTokenError(current)
	}
	if current.IsUsed {
		return "", nil, m.revokeFamilyOnReuse(ctx, current, now)
	}

	nextRaw, nextHash, err := GenerateRefreshToken()
	if err != nil {
		return "", nil, err
	}
	next, err := NewRefreshToken(current.AccountID, current.FamilyID, nextHash, meta, now)
	if err != nil {
		return "", nil, err
	}

	if err := m.tokens.Rotate(ctx, current.ID, next); err != nil {
		if errors.Is(err, ErrTokenConsumed) {
			// lost a race against a concurrent rotation of the same token
			return "", nil, m.revokeFamilyOnReuse(ctx, current, now)
		}
		return "", nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("token_id", current.ID.String()).
			Wrap(err)
	}
	return nextRaw, next, nil
}

// Revoke permanently invalidates a token. Revoking twice succeeds.
func (m *RefreshTokenManager) Revoke(ctx context.Context, tokenID ulid.ULID) error {
	if err := m.tokens.Revoke(ctx, tokenID, m.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("REFRESH_NOT_FOUND").
				With("token_id", tokenID.String()).
				Wrap(err)
		}
		return oops.Code("REFRESH_REVOKE_FAILED").
			With("token_id", tokenID.String()).
			Wrap(err)
	}
	return nil
}

// Cleanup deletes tokens that expired or were revoked more than retention ago.
func (m *RefreshTokenManager) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		return 0, oops.Code("REFRESH_CLEANUP_INVALID").
			With("retention", retention.String()).
			Errorf("retention cannot be negative")
	}
	n, err := m.tokens.DeleteStale(ctx, m.now().Add(-retention))
	if err != nil {
		return 0, oops.Code("REFRESH_CLEANUP_FAILED").Wrap(err)
	}
	return n, nil
}

func (m *RefreshTokenManager) lookup(ctx context.Context, raw string) (*RefreshToken, error) {
	if raw == "" {
		return nil, oops.Code("REFRESH_NOT_FOUND").Wrap(ErrNotFound)
	}

	token, err := m.tokens.GetByTokenHash(ctx, HashRefreshToken(raw))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("REFRESH_NOT_FOUND").Wrap(err)
		}
		return nil, oops.Code("REFRESH_LOOKUP_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}
	return token, nil
}

func (m *RefreshTokenManager) revokeFamilyOnReuse(ctx context.Context, token *RefreshToken, now time.Time) error {
	revoked, err := m.tokens.RevokeFamily(ctx, token.FamilyID, now)
	if err != nil {
		return oops.Code("REFRESH_REVOKE_FAILED").
			With("family_id", token.FamilyID.String()).
			Wrap(err)
	}

	m.logger.WarnContext(ctx, "refresh token reuse detected, family revoked",
		"token_id", token.ID.String(),
		"family_id", token.FamilyID.String(),
		"account_id", token.AccountID.String(),
		"revoked", revoked,
	)
	return oops.Code("REFRESH_REUSED").
		With("token_id", token.ID.String()).
		With("family_id", token.FamilyID.String()).
		Errorf("refresh token reuse detected")
}

func invalidTokenError(token *RefreshToken) error {
	return oops.Code("REFRESH_INVALID").
		With("token_id", token.ID.String()).
		Errorf("refresh token is no longer valid")
}

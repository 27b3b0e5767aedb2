// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/holoauth/internal/auth"
)

const refreshTokenColumns = `id, family_id, account_id, token_hash, issued_at, expires_at,
	revoked_at, is_used, replaced_by, user_agent, ip_address`

const insertRefreshToken = `
	INSERT INTO refresh_tokens (` + refreshTokenColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// RefreshTokenRepository implements auth.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	pool poolIface
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(pool poolIface) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

// Create stores a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	if _, err := r.pool.Exec(ctx, insertRefreshToken, refreshTokenArgs(token)...); err != nil {
		return oops.Code("REFRESH_INSERT_FAILED").
			With("operation", "insert refresh token").
			With("id", token.ID.String()).
			With("family_id", token.FamilyID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a token by its hash.
func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	token, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The hash is a credential derivative, keep it out of the error context.
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_QUERY_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}
	return token, nil
}

// Rotate marks oldID used and stores next in one transaction. The update only
// matches a token that is neither used nor revoked, so concurrent rotations
// of the same token cannot both commit.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID ulid.ULID, next *auth.RefreshToken) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("REFRESH_ROTATE_TX_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op
	}()

	result, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET is_used = TRUE, replaced_by = $2
		WHERE id = $1 AND is_used = FALSE AND revoked_at IS NULL
	`, oldID.String(), next.ID.String())
	if err != nil {
		return oops.Code("REFRESH_ROTATE_TX_FAILED").
			With("operation", "mark refresh token used").
			With("id", oldID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("REFRESH_TOKEN_CONSUMED").
			With("id", oldID.String()).
			Wrap(auth.ErrTokenConsumed)
	}

	if _, err := tx.Exec(ctx, insertRefreshToken, refreshTokenArgs(next)...); err != nil {
		return oops.Code("REFRESH_ROTATE_TX_FAILED").
			With("operation", "insert successor token").
			With("id", next.ID.String()).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("REFRESH_ROTATE_TX_FAILED").
			With("operation", "commit transaction").
			Wrap(err)
	}
	return nil
}

// Revoke sets revoked_at unless it is already set.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("REFRESH_REVOKE_QUERY_FAILED").
			With("operation", "revoke refresh token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("REFRESH_TOKEN_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// RevokeFamily revokes every unrevoked token in a family.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID ulid.ULID, at time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE family_id = $1 AND revoked_at IS NULL
	`, familyID.String(), at)
	if err != nil {
		return 0, oops.Code("REFRESH_REVOKE_FAMILY_FAILED").
			With("operation", "revoke refresh token family").
			With("family_id", familyID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteStale removes tokens that expired or were revoked before the cutoff.
func (r *RefreshTokenRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1 OR revoked_at < $1
	`, before)
	if err != nil {
		return 0, oops.Code("REFRESH_DELETE_STALE_FAILED").
			With("operation", "delete stale refresh tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func refreshTokenArgs(t *auth.RefreshToken) []any {
	var replacedBy *string
	if t.ReplacedBy != nil {
		s := t.ReplacedBy.String()
		replacedBy = &s
	}
	return []any{
		t.ID.String(),
		t.FamilyID.String(),
		t.AccountID.String(),
		t.TokenHash,
		t.IssuedAt,
		t.ExpiresAt,
		t.RevokedAt,
		t.IsUsed,
		replacedBy,
		t.UserAgent,
		t.IPAddress,
	}
}

// scanRefreshToken scans a single row into a RefreshToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanRefreshToken(row pgx.Row) (*auth.RefreshToken, error) {
	var (
		token                        auth.RefreshToken
		idStr, familyStr, accountStr string
		replacedByStr                *string
	)
	if err := row.Scan(
		&idStr,
		&familyStr,
		&accountStr,
		&token.TokenHash,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.IsUsed,
		&replacedByStr,
		&token.UserAgent,
		&token.IPAddress,
	); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	ids := []struct {
		dst *ulid.ULID
		src string
	}{
		{&token.ID, idStr},
		{&token.FamilyID, familyStr},
		{&token.AccountID, accountStr},
	}
	for _, id := range ids {
		parsed, err := ulid.Parse(id.src)
		if err != nil {
			return nil, oops.Code("REFRESH_INVALID_ID").With("id", id.src).Wrap(err)
		}
		*id.dst = parsed
	}

	if replacedByStr != nil {
		replacedBy, err := ulid.Parse(*replacedByStr)
		if err != nil {
			return nil, oops.Code("REFRESH_INVALID_ID").With("replaced_by", *replacedByStr).Wrap(err)
		}
		token.ReplacedBy = &replacedBy
	}
	return &token, nil
}

// Compile-time interface check.
var _ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

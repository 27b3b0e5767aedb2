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

const accountColumns = `id, username, email, password_hash, created_at, updated_at, deleted_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		account.ID.String(),
		account.Username,
		account.Email,
		account.PasswordHash,
		account.CreatedAt,
		account.UpdatedAt,
		account.DeletedAt,
	)
	if err != nil {
		if violation := uniqueViolation(err); violation != nil {
			return oops.Code("ACCOUNT_DUPLICATE").
				With("constraint", violation.Constraint).
				Wrap(violation)
		}
		return oops.Code("ACCOUNT_INSERT_FAILED").
			With("operation", "insert account").
			With("id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an active account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String())
	return r.getOne(row, "id", id.String())
}

// GetByEmail retrieves an active account by email. The email is expected to
// be normalized already.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1 AND deleted_at IS NULL
	`, email)
	return r.getOne(row, "email", email)
}

// GetByUsername retrieves an active account by username.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE username = $1 AND deleted_at IS NULL
	`, username)
	return r.getOne(row, "username", username)
}

// List returns accounts ordered by creation time.
func (r *AccountRepository) List(ctx context.Context, includeDeleted bool) ([]*auth.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE $1 OR deleted_at IS NULL
		ORDER BY created_at, id
	`, includeDeleted)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_QUERY_FAILED").
			With("operation", "list accounts").
			Wrap(err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_QUERY_FAILED").
				With("operation", "scan account").
				Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_QUERY_FAILED").
			With("operation", "iterate accounts").
			Wrap(err)
	}
	return accounts, nil
}

// SoftDelete marks an active account deleted.
func (r *AccountRepository) SoftDelete(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String(), at)
	if err != nil {
		return oops.Code("ACCOUNT_SOFT_DELETE_FAILED").
			With("operation", "soft delete account").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Restore clears the deletion mark of a deleted account. A unique violation
// means another active account took the username or email meanwhile.
func (r *AccountRepository) Restore(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET deleted_at = NULL, updated_at = $2
		WHERE id = $1 AND deleted_at IS NOT NULL
	`, id.String(), at)
	if err != nil {
		if violation := uniqueViolation(err); violation != nil {
			return oops.Code("ACCOUNT_DUPLICATE").
				With("constraint", violation.Constraint).
				Wrap(violation)
		}
		return oops.Code("ACCOUNT_RESTORE_QUERY_FAILED").
			With("operation", "restore account").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Update applies a partial update to an active account. NULL parameters keep
// the stored value.
func (r *AccountRepository) Update(ctx context.Context, id ulid.ULID, update auth.AccountUpdate, at time.Time) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE accounts SET
			username = COALESCE($2, username),
			email = COALESCE($3, email),
			password_hash = COALESCE($4, password_hash),
			updated_at = $5
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+accountColumns,
		id.String(),
		update.Username,
		update.Email,
		update.PasswordHash,
		at,
	)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		if violation := uniqueViolation(err); violation != nil {
			return nil, oops.Code("ACCOUNT_DUPLICATE").
				With("constraint", violation.Constraint).
				Wrap(violation)
		}
		return nil, oops.Code("ACCOUNT_UPDATE_QUERY_FAILED").
			With("operation", "update account").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

func (r *AccountRepository) getOne(row pgx.Row, key, value string) (*auth.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With(key, value).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", "get account by "+key).
			Wrap(err)
	}
	return account, nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr   string
		account auth.Account
	)
	if err := row.Scan(
		&idStr,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.DeletedAt,
	); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	account.ID = id
	return &account, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)

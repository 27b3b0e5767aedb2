// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Directory provides uniqueness-checked account storage.
//
// The conflict pre-checks only produce friendly field lists. The store's
// unique indexes remain authoritative, and a violation they report is mapped
// to the same ACCOUNT_CONFLICT error.
type Directory struct {
	accounts AccountRepository
	now      func() time.Time
}

// NewDirectory creates a Directory.
func NewDirectory(accounts AccountRepository) (*Directory, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	return &Directory{
		accounts: accounts,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create normalizes the username and email, checks both for conflicts and
// stores a new account.
func (d *Directory) Create(ctx context.Context, username, email, passwordHash string) (*Account, error) {
	account, err := NewAccount(username, email, passwordHash)
	if err != nil {
		return nil, err
	}

	fields, err := d.Conflicts(ctx, account.Username, account.Email)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		return nil, conflictError(fields)
	}

	if err := d.insert(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Conflicts returns the fields, username first, already held by an active
// account. Inputs are normalized before lookup.
func (d *Directory) Conflicts(ctx context.Context, username, email string) ([]string, error) {
	username = NormalizeUsername(username)
	email = NormalizeEmail(email)
	return d.conflicts(ctx, ulid.ULID{}, &username, &email)
}

// insert stores an account without pre-checks.
func (d *Directory) insert(ctx context.Context, account *Account) error {
	if err := d.accounts.Create(ctx, account); err != nil {
		if conflict := asConflict(err); conflict != nil {
			return conflict
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}
	return nil
}

// FindByID returns the active account with the given ID.
func (d *Directory) FindByID(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := d.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "id", id.String())
	}
	return account, nil
}

// FindByEmail returns the active account with the given email.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	account, err := d.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, lookupError(err, "email", NormalizeEmail(email))
	}
	return account, nil
}

// FindByUsername returns the active account with the given username.
func (d *Directory) FindByUsername(ctx context.Context, username string) (*Account, error) {
	account, err := d.accounts.GetByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		return nil, lookupError(err, "username", NormalizeUsername(username))
	}
	return account, nil
}

// List returns accounts ordered by creation time.
func (d *Directory) List(ctx context.Context, includeDeleted bool) ([]*Account, error) {
	accounts, err := d.accounts.List(ctx, includeDeleted)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").Wrap(err)
	}
	return accounts, nil
}

// SoftDelete marks an active account deleted.
func (d *Directory) SoftDelete(ctx context.Context, id ulid.ULID) error {
	err := d.accounts.SoftDelete(ctx, id, d.now())
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(err)
	}
	return oops.Code("ACCOUNT_DELETE_FAILED").With("id", id.String()).Wrap(err)
}

// Restore clears the deletion mark of a soft-deleted account. Restoring an
// active or unknown account yields ACCOUNT_NOT_FOUND.
func (d *Directory) Restore(ctx context.Context, id ulid.ULID) error {
	err := d.accounts.Restore(ctx, id, d.now())
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(err)
	}
	if conflict := asConflict(err); conflict != nil {
		return conflict
	}
	return oops.Code("ACCOUNT_RESTORE_FAILED").With("id", id.String()).Wrap(err)
}

// Update applies a partial update. Nil fields keep their current value.
func (d *Directory) Update(ctx context.Context, id ulid.ULID, update AccountUpdate) (*Account, error) {
	if update.IsEmpty() {
		return nil, oops.Code("ACCOUNT_UPDATE_EMPTY").Errorf("at least one field must be provided")
	}
	update = update.normalized()
	if update.Username != nil && *update.Username == "" {
		return nil, oops.Code("ACCOUNT_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if update.Email != nil && *update.Email == "" {
		return nil, oops.Code("ACCOUNT_INVALID_EMAIL").Errorf("email cannot be empty")
	}

	fields, err := d.conflicts(ctx, id, update.Username, update.Email)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		return nil, conflictError(fields)
	}

	account, err := d.accounts.Update(ctx, id, update, d.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(err)
		}
		if conflict := asConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").With("id", id.String()).Wrap(err)
	}
	return account, nil
}

// conflicts checks username and email independently and returns every field
// already held by an active account other than self.
func (d *Directory) conflicts(ctx context.Context, self ulid.ULID, username, email *string) ([]string, error) {
	var fields []string

	if username != nil {
		taken, err := d.taken(self, func() (*Account, error) {
			return d.accounts.GetByUsername(ctx, *username)
		})
		if err != nil {
			return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").With("field", FieldUsername).Wrap(err)
		}
		if taken {
			fields = append(fields, FieldUsername)
		}
	}

	if email != nil {
		taken, err := d.taken(self, func() (*Account, error) {
			return d.accounts.GetByEmail(ctx, *email)
		})
		if err != nil {
			return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").With("field", FieldEmail).Wrap(err)
		}
		if taken {
			fields = append(fields, FieldEmail)
		}
	}

	return fields, nil
}

func (d *Directory) taken(self ulid.ULID, get func() (*Account, error)) (bool, error) {
	existing, err := get()
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing.ID != self, nil
}

func lookupError(err error, key, value string) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code("ACCOUNT_NOT_FOUND").With(key, value).Wrap(err)
	}
	return oops.Code("ACCOUNT_LOOKUP_FAILED").With("operation", "get account by "+key).Wrap(err)
}

func conflictError(fields []string) error {
	return oops.Code("ACCOUNT_CONFLICT").
		With("fields", fields).
		Wrap(&ConflictError{Fields: fields})
}

// asConflict maps a store unique violation to ACCOUNT_CONFLICT, or returns nil.
func asConflict(err error) error {
	var violation *UniqueViolationError
	if !errors.As(err, &violation) {
		return nil
	}
	fields := []string{}
	if violation.Field != "" {
		fields = append(fields, violation.Field)
	}
	return oops.Code("ACCOUNT_CONFLICT").
		With("fields", fields).
		With("constraint", violation.Constraint).
		Wrap(&ConflictError{Fields: fields})
}

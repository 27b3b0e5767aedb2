// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Conflict field names, in reporting order.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
)

// Account represents a user account.
type Account struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// IsDeleted returns true if the account has been soft-deleted.
func (a *Account) IsDeleted() bool {
	return a.DeletedAt != nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims a username. Case is preserved.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// NewAccount creates an Account with normalized username and email.
func NewAccount(username, email, passwordHash string) (*Account, error) {
	username = NormalizeUsername(username)
	email = NormalizeEmail(email)

	if username == "" {
		return nil, oops.Code("ACCOUNT_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if email == "" {
		return nil, oops.Code("ACCOUNT_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_PASSWORD_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// AccountUpdate is a partial account update. Nil fields are left unchanged.
type AccountUpdate struct {
	Username     *string
	Email        *string
	PasswordHash *string
}

// IsEmpty returns true if no field is set.
func (u AccountUpdate) IsEmpty() bool {
	return u.Username == nil && u.Email == nil && u.PasswordHash == nil
}

// normalized returns a copy with username and email normalized.
func (u AccountUpdate) normalized() AccountUpdate {
	out := u
	if u.Username != nil {
		v := NormalizeUsername(*u.Username)
		out.Username = &v
	}
	if u.Email != nil {
		v := NormalizeEmail(*u.Email)
		out.Email = &v
	}
	return out
}

// ConflictError reports every unique field that collided with another account.
type ConflictError struct {
	Fields []string
}

func (e *ConflictError) Error() string {
	if len(e.Fields) == 0 {
		return "account conflicts with an existing account"
	}
	return fmt.Sprintf("%s already in use", strings.Join(e.Fields, ", "))
}

// UniqueViolationError is returned by repositories when the store rejects a
// write on a unique constraint. Field is empty when the constraint could not
// be attributed to a column.
type UniqueViolationError struct {
	Field      string
	Constraint string
}

func (e *UniqueViolationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("unique constraint %q violated", e.Constraint)
	}
	return fmt.Sprintf("%s already in use", e.Field)
}

// AccountRepository manages account persistence.
// Lookups other than List and Restore only consider accounts that are not
// soft-deleted.
type AccountRepository interface {
	// Create stores a new account.
	// Returns *UniqueViolationError if username or email is taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an active account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an active account by normalized email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByUsername retrieves an active account by username.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// List returns accounts ordered by creation time.
	List(ctx context.Context, includeDeleted bool) ([]*Account, error)

	// SoftDelete marks an active account deleted.
	// Returns ErrNotFound if no active account has the ID.
	SoftDelete(ctx context.Context, id ulid.ULID, at time.Time) error

	// Restore clears the deletion mark of a deleted account.
	// Returns ErrNotFound if no deleted account has the ID.
	Restore(ctx context.Context, id ulid.ULID, at time.Time) error

	// Update applies a partial update to an active account and returns it.
	// Returns *UniqueViolationError if username or email is taken.
	Update(ctx context.Context, id ulid.ULID, update AccountUpdate, at time.Time) (*Account, error)
}

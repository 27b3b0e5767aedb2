// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/holoauth/pkg/errutil"
)

// MsgAccountNotFound is returned when an account does not exist or is deleted.
const MsgAccountNotFound = "account not found"

// AccountService manages existing accounts.
type AccountService struct {
	directory *Directory
	hasher    PasswordHasher
	logger    *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(directory *Directory, hasher PasswordHasher, logger *slog.Logger) (*AccountService, error) {
	if directory == nil {
		return nil, oops.Errorf("directory is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &AccountService{directory: directory, hasher: hasher, logger: logger}, nil
}

// List returns accounts ordered by creation time.
func (s *AccountService) List(ctx context.Context, includeDeleted bool) Result[[]*Account] {
	accounts, err := s.directory.List(ctx, includeDeleted)
	if err != nil {
		return accountFailure[[]*Account](ctx, s.logger, "list", err)
	}
	if accounts == nil {
		accounts = []*Account{}
	}
	return Success(accounts)
}

// Get returns an active account.
func (s *AccountService) Get(ctx context.Context, id ulid.ULID) Result[*Account] {
	account, err := s.directory.FindByID(ctx, id)
	if err != nil {
		return accountFailure[*Account](ctx, s.logger, "get", err)
	}
	return Success(account)
}

// Delete soft-deletes an active account.
func (s *AccountService) Delete(ctx context.Context, id ulid.ULID) Result[struct{}] {
	if err := s.directory.SoftDelete(ctx, id); err != nil {
		return accountFailure[struct{}](ctx, s.logger, "delete", err)
	}
	return Success(struct{}{})
}

// Restore reactivates a soft-deleted account and returns it.
func (s *AccountService) Restore(ctx context.Context, id ulid.ULID) Result[*Account] {
	if err := s.directory.Restore(ctx, id); err != nil {
		return accountFailure[*Account](ctx, s.logger, "restore", err)
	}
	return s.Get(ctx, id)
}

// ChangeUsername sets a new username.
func (s *AccountService) ChangeUsername(ctx context.Context, id ulid.ULID, username string) Result[*Account] {
	account, err := s.directory.Update(ctx, id, AccountUpdate{Username: &username})
	if err != nil {
		return accountFailure[*Account](ctx, s.logger, "change username", err)
	}
	return Success(account)
}

// ChangeEmail sets a new email.
func (s *AccountService) ChangeEmail(ctx context.Context, id ulid.ULID, email string) Result[*Account] {
	account, err := s.directory.Update(ctx, id, AccountUpdate{Email: &email})
	if err != nil {
		return accountFailure[*Account](ctx, s.logger, "change email", err)
	}
	return Success(account)
}

// ChangePassword replaces the password after verifying the current one.
// Existing refresh tokens stay valid.
func (s *AccountService) ChangePassword(ctx context.Context, id ulid.ULID, current, next string) Result[struct{}] {
	account, err := s.directory.FindByID(ctx, id)
	if err != nil {
		return accountFailure[struct{}](ctx, s.logger, "change password", err)
	}
	if !s.hasher.Verify(current, account.PasswordHash) {
		return Failure[struct{}](KindUnauthorized, "current password is incorrect", nil)
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		if errors.Is(err, ErrEmptyPassword) {
			return Failure[struct{}](KindValidation, "password cannot be empty", err)
		}
		return accountFailure[struct{}](ctx, s.logger, "change password", err)
	}
	if _, err := s.directory.Update(ctx, id, AccountUpdate{PasswordHash: &hash}); err != nil {
		return accountFailure[struct{}](ctx, s.logger, "change password", err)
	}
	return Success(struct{}{})
}

// accountFailure converts a directory error into a Result.
func accountFailure[T any](ctx context.Context, logger *slog.Logger, op string, err error) Result[T] {
	var conflict *ConflictError
	switch {
	case errors.Is(err, ErrNotFound):
		return Failure[T](KindNotFound, MsgAccountNotFound, err)
	case errors.As(err, &conflict):
		return Conflict[T](conflict.Fields, err)
	case errutil.HasCode(err, "ACCOUNT_UPDATE_EMPTY", "ACCOUNT_INVALID_USERNAME", "ACCOUNT_INVALID_EMAIL"):
		return Failure[T](KindValidation, err.Error(), err)
	}
	errutil.LogErrorContext(ctx, logger, "account operation failed", err, "operation", op)
	return Internal[T](err)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/holomush/holoauth/internal/auth"
)

// poolIface is the part of *pgxpool.Pool the repositories use. It lets unit
// tests substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// constraintFields maps unique indexes to the account field they protect.
var constraintFields = map[string]string{
	"accounts_username_active_key": auth.FieldUsername,
	"accounts_email_active_key":    auth.FieldEmail,
}

// uniqueViolation converts a PostgreSQL unique violation into
// *auth.UniqueViolationError. It returns nil for any other error.
func uniqueViolation(err error) *auth.UniqueViolationError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	return &auth.UniqueViolationError{
		Field:      constraintFields[pgErr.ConstraintName],
		Constraint: pgErr.ConstraintName,
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// Kind classifies the outcome of a service operation.
type Kind string

// Outcome kinds. KindNone marks success.
const (
	KindNone               Kind = ""
	KindValidation         Kind = "VALIDATION"
	KindBadRequest         Kind = "BAD_REQUEST"
	KindConflict           Kind = "CONFLICT"
	KindNotFound           Kind = "NOT_FOUND"
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindForbidden          Kind = "FORBIDDEN"
	KindInternal           Kind = "INTERNAL"
)

// Client-facing messages. Credential and token failures share messages so
// they do not reveal which check failed.
const (
	MsgInvalidCredentials = "invalid email or password"
	MsgInvalidClient      = "invalid client/audience"
	MsgMissingClient      = "client id is required"
	MsgInvalidRefresh     = "invalid refresh token"
	MsgInvalidAccess      = "invalid access token"
	MsgInternal           = "internal error"
)

// Result is the typed outcome of a service operation.
// Exactly one of Value (when OK) or Kind/Message (when failed) is meaningful.
type Result[T any] struct {
	Value   T
	Kind    Kind
	Message string
	// Fields lists offending fields for KindConflict.
	Fields []string
	// Created is set when the operation created a new entity.
	Created bool

	cause error
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool {
	return r.Kind == KindNone
}

// Cause returns the underlying error of a failed operation, for logging only.
// It must not be shown to clients.
func (r Result[T]) Cause() error {
	return r.cause
}

// Success wraps a value in a successful Result.
func Success[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Created wraps a newly created value in a successful Result.
func Created[T any](value T) Result[T] {
	return Result[T]{Value: value, Created: true}
}

// Failure builds a failed Result.
func Failure[T any](kind Kind, message string, cause error) Result[T] {
	return Result[T]{Kind: kind, Message: message, cause: cause}
}

// Conflict builds a failed Result naming the conflicting fields.
func Conflict[T any](fields []string, cause error) Result[T] {
	return Result[T]{
		Kind:    KindConflict,
		Message: (&ConflictError{Fields: fields}).Error(),
		Fields:  fields,
		cause:   cause,
	}
}

// Internal builds a failed Result that hides the cause.
func Internal[T any](cause error) Result[T] {
	return Failure[T](KindInternal, MsgInternal, cause)
}

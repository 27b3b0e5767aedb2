// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/holomush/holoauth/internal/auth"
)

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// envelope is the body of every API response.
type envelope struct {
	Data    any          `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

var kindStatus = map[auth.Kind]int{
	auth.KindValidation:         http.StatusBadRequest,
	auth.KindBadRequest:         http.StatusBadRequest,
	auth.KindInvalidCredentials: http.StatusBadRequest,
	auth.KindUnauthorized:       http.StatusUnauthorized,
	auth.KindForbidden:          http.StatusForbidden,
	auth.KindNotFound:           http.StatusNotFound,
	auth.KindConflict:           http.StatusConflict,
	auth.KindInternal:           http.StatusInternalServerError,
}

// StatusFor maps a result kind to its HTTP status. Unknown kinds are 500.
func StatusFor(kind auth.Kind) int {
	if kind == auth.KindNone {
		return http.StatusOK
	}
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// apiError is a failed request on its way to the error handler.
type apiError struct {
	Status  int
	Message string
	Fields  []FieldError
	cause   error
}

func (e *apiError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *apiError) Unwrap() error {
	return e.cause
}

func validationError(fields ...FieldError) *apiError {
	return &apiError{Status: http.StatusBadRequest, Message: "validation failed", Fields: fields}
}

// resultError converts a failed result into an apiError.
func resultError[T any](res auth.Result[T]) *apiError {
	err := &apiError{Status: StatusFor(res.Kind), Message: res.Message, cause: res.Cause()}
	for _, field := range res.Fields {
		err.Fields = append(err.Fields, FieldError{Field: field, Message: "already taken"})
	}
	if res.Kind == auth.KindInternal {
		err.Message = auth.MsgInternal
	}
	return err
}

// respond writes a successful result through view, or returns the failure
// for the error handler. Created results answer 201.
func respond[T, V any](c echo.Context, res auth.Result[T], view func(T) V) error {
	if !res.OK() {
		return resultError(res)
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, envelope{Data: view(res.Value)})
}

func message(c echo.Context, status int, msg string) error {
	return c.JSON(status, envelope{Message: msg})
}

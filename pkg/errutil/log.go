// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	LogErrorContext(context.Background(), logger, msg, err, args...)
}

// LogErrorContext is LogError with a context, so trace-aware handlers can
// attach span identifiers.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error, args ...any) {
	attrs := append([]any{}, args...)
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if kv := oopsErr.Context(); len(kv) > 0 {
			attrs = append(attrs, "context", kv)
		}
	} else {
		attrs = append(attrs, "error", err)
	}
	logger.ErrorContext(ctx, msg, attrs...)
}

// HasCode reports whether err is an oops error carrying one of codes.
func HasCode(err error, codes ...string) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	actual := oopsErr.Code()
	for _, code := range codes {
		if actual == code {
			return true
		}
	}
	return false
}

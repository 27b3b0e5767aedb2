// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/holoauth/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("TEST_ERROR").
		With("key", "value").
		Errorf("something failed")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "operation failed", logEntry["msg"])
	assert.Equal(t, "TEST_ERROR", logEntry["code"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := errors.New("standard error")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
}

func TestLogErrorContext_IncludesExtraAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("TOKEN_EXPIRED").Errorf("expired")
	errutil.LogErrorContext(context.Background(), logger, "auth operation failed", err, "operation", "refresh")

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "refresh", logEntry["operation"])
	assert.Equal(t, "TOKEN_EXPIRED", logEntry["code"])
}

func TestHasCode(t *testing.T) {
	coded := oops.Code("REFRESH_USED").Errorf("used")

	tests := []struct {
		name  string
		err   error
		codes []string
		want  bool
	}{
		{name: "matching code", err: coded, codes: []string{"REFRESH_USED"}, want: true},
		{name: "one of several", err: coded, codes: []string{"REFRESH_INVALID", "REFRESH_USED"}, want: true},
		{name: "different code", err: coded, codes: []string{"REFRESH_INVALID"}, want: false},
		{name: "standard error", err: errors.New("plain"), codes: []string{"REFRESH_USED"}, want: false},
		{name: "nil error", err: nil, codes: []string{"REFRESH_USED"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errutil.HasCode(tt.err, tt.codes...))
		})
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/samber/oops"
)

// SentryFlushTimeout bounds how long FlushSentry waits for queued events.
const SentryFlushTimeout = 2 * time.Second

// InitSentry configures error reporting. An empty DSN leaves it disabled
// and reports false.
func InitSentry(dsn, environment, release string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, oops.Code("SENTRY_INIT_FAILED").With("environment", environment).Wrap(err)
	}
	return true, nil
}

// FlushSentry waits for queued events to be sent.
func FlushSentry() {
	sentry.Flush(SentryFlushTimeout)
}

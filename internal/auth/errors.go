// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrTokenConsumed is returned by RefreshTokenRepository.Rotate when the token
// was already used or revoked by the time the rotation ran.
var ErrTokenConsumed = errors.New("refresh token already consumed")

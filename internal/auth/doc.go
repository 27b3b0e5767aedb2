// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides account authentication for holoauth.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewAccount - creates an Account with normalized username and email
//   - NewRefreshToken - creates a RefreshToken with a fixed validity window
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Components
//
//   - Argon2idHasher - password hashing and verification
//   - TokenSigner - HS256 access tokens bound to an audience allow-list
//   - RefreshTokenManager - opaque refresh tokens with rotation and revocation
//   - Directory - uniqueness-checked account storage
//
// # Services
//
// Service composes the components into Register, Login, Logout, Refresh and
// Validate. AccountService backs the account management surface. Both return
// Result values instead of errors so that callers can map failures without
// inspecting error chains.
package auth

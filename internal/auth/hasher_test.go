// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/pkg/errutil"
)

func TestHashPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("produces PHC string with current parameters", func(t *testing.T) {
		hash, err := hasher.Hash("Str0ng!pwd")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$"), hash)
		assert.Len(t, strings.Split(hash, "$"), 6)
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
		assert.True(t, hasher.Verify("samepassword", hash1))
		assert.True(t, hasher.Verify("samepassword", hash2))
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_EMPTY_PASSWORD")
	})
}

func TestVerifyPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	hash, err := hasher.Hash("correctpassword")
	require.NoError(t, err)

	t.Run("correct password verifies", func(t *testing.T) {
		assert.True(t, hasher.Verify("correctpassword", hash))
	})

	t.Run("incorrect password fails", func(t *testing.T) {
		assert.False(t, hasher.Verify("wrongpassword", hash))
	})

	t.Run("tampered digest fails", func(t *testing.T) {
		parts := strings.Split(hash, "$")
		digest := []byte(parts[5])
		if digest[0] == 'A' {
			digest[0] = 'B'
		} else {
			digest[0] = 'A'
		}
		parts[5] = string(digest)
		assert.False(t, hasher.Verify("correctpassword", strings.Join(parts, "$")))
	})

	malformed := []struct {
		name string
		hash string
	}{
		{"empty string", ""},
		{"not a PHC string", "not-a-valid-hash"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"invalid version format", "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"unsupported version", "$argon2id$v=16$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"invalid parameters format", "$argon2id$v=19$invalid$c2FsdA$aGFzaA"},
		{"zero memory", "$argon2id$v=19$m=0,t=1,p=4$c2FsdA$aGFzaA"},
		{"threads overflow", "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA"},
		{"invalid salt base64", "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA"},
		{"invalid hash base64", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!"},
		{"empty digest", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$"},
	}
	for _, tt := range malformed {
		t.Run("malformed hash never matches: "+tt.name, func(t *testing.T) {
			assert.False(t, hasher.Verify("password", tt.hash))
		})
	}
}

func TestNeedsUpgrade(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("bcrypt hash needs upgrade", func(t *testing.T) {
		assert.True(t, hasher.NeedsUpgrade("$2a$10$N9qo8uLOickgx2ZMRZoMyeIvNq.Uf3hE9tQALNP1Qn9sNp5x5x5x5"))
	})

	t.Run("argon2id with old parameters needs upgrade", func(t *testing.T) {
		assert.True(t, hasher.NeedsUpgrade("$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	})

	t.Run("fresh hash does not need upgrade", func(t *testing.T) {
		hash, err := hasher.Hash("password")
		require.NoError(t, err)
		assert.False(t, hasher.NeedsUpgrade(hash))
	})
}

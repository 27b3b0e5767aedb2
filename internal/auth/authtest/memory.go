// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides in-memory stores for exercising the auth
// services without a database.
package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/holoauth/internal/auth"
)

// AccountStore is an AccountRepository backed by a map. Username and email
// are unique among accounts that are not deleted.
type AccountStore struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]auth.Account

	// CreateErr, when set, is returned by Create.
	CreateErr error
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[ulid.ULID]auth.Account)}
}

// Create implements auth.AccountRepository.
func (s *AccountStore) Create(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}
	if err := s.unique(account.ID, account.Username, account.Email); err != nil {
		return err
	}
	s.accounts[account.ID] = *account
	return nil
}

// GetByID implements auth.AccountRepository.
func (s *AccountStore) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || a.IsDeleted() {
		return nil, auth.ErrNotFound
	}
	return &a, nil
}

// GetByEmail implements auth.AccountRepository.
func (s *AccountStore) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	return s.find(func(a auth.Account) bool { return a.Email == email })
}

// GetByUsername implements auth.AccountRepository.
func (s *AccountStore) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	return s.find(func(a auth.Account) bool { return a.Username == username })
}

// List implements auth.AccountRepository.
func (s *AccountStore) List(_ context.Context, includeDeleted bool) ([]*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*auth.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.IsDeleted() && !includeDeleted {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out, nil
}

// SoftDelete implements auth.AccountRepository.
func (s *AccountStore) SoftDelete(_ context.Context, id ulid.ULID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || a.IsDeleted() {
		return auth.ErrNotFound
	}
	a.DeletedAt = &at
	a.UpdatedAt = at
	s.accounts[id] = a
	return nil
}

// Restore implements auth.AccountRepository.
func (s *AccountStore) Restore(_ context.Context, id ulid.ULID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || !a.IsDeleted() {
		return auth.ErrNotFound
	}
	if err := s.unique(id, a.Username, a.Email); err != nil {
		return err
	}
	a.DeletedAt = nil
	a.UpdatedAt = at
	s.accounts[id] = a
	return nil
}

// Update implements auth.AccountRepository.
func (s *AccountStore) Update(_ context.Context, id ulid.ULID, update auth.AccountUpdate, at time.Time) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || a.IsDeleted() {
		return nil, auth.ErrNotFound
	}
	if update.Username != nil {
		a.Username = *update.Username
	}
	if update.Email != nil {
		a.Email = *update.Email
	}
	if update.PasswordHash != nil {
		a.PasswordHash = *update.PasswordHash
	}
	if err := s.unique(id, a.Username, a.Email); err != nil {
		return nil, err
	}
	a.UpdatedAt = at
	s.accounts[id] = a
	return &a, nil
}

func (s *AccountStore) find(match func(auth.Account) bool) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if !a.IsDeleted() && match(a) {
			return &a, nil
		}
	}
	return nil, auth.ErrNotFound
}

// unique mirrors the partial unique indexes of the database schema.
func (s *AccountStore) unique(self ulid.ULID, username, email string) error {
	for id, a := range s.accounts {
		if id == self || a.IsDeleted() {
			continue
		}
		if a.Username == username {
			return &auth.UniqueViolationError{Field: auth.FieldUsername, Constraint: "accounts_username_active_key"}
		}
		if a.Email == email {
			return &auth.UniqueViolationError{Field: auth.FieldEmail, Constraint: "accounts_email_active_key"}
		}
	}
	return nil
}

// RefreshTokenStore is a RefreshTokenRepository backed by a map.
type RefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]auth.RefreshToken

	// CreateErr, when set, is returned by Create.
	CreateErr error
}

// NewRefreshTokenStore creates an empty RefreshTokenStore.
func NewRefreshTokenStore() *RefreshTokenStore {
	return &RefreshTokenStore{tokens: make(map[ulid.ULID]auth.RefreshToken)}
}

// Create implements auth.RefreshTokenRepository.
func (s *RefreshTokenStore) Create(_ context.Context, token *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.tokens[token.ID] = *token
	return nil
}

// GetByTokenHash implements auth.RefreshTokenRepository.
func (s *RefreshTokenStore) GetByTokenHash(_ context.Context, tokenHash string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.TokenHash == tokenHash {
			return &t, nil
		}
	}
	return nil, auth.ErrNotFound
}

// Rotate implements auth.RefreshTokenRepository.
func (s *RefreshTokenStore) Rotate(_ context.Context, oldID ulid.ULID, next *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tokens[oldID]
	if !ok {
		return auth.ErrNotFound
	}
	if old.IsUsed || old.IsRevoked() {
		return auth.ErrTokenConsumed
	}
	nextID := next.ID
	old.IsUsed = true
	old.ReplacedBy = &nextID
	s.tokens[oldID] = old
	s.tokens[next.ID] = *next
	return nil
}

// Revoke implements auth.RefreshTokenRepository.
func (s *RefreshTokenStore) Revoke(_ context.Context, id ulid.ULID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
		s.tokens[id] = t
	}
	return nil
}

// RevokeFamily implements auth.RefreshTokenRepository.
func (s *RefreshTokenStore) RevokeFamily(_ context.Context, familyID ulid.ULID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if t.FamilyID != familyID || t.RevokedAt != nil {
			continue
		}
		t.RevokedAt = &at
		s.tokens[id] = t
		n++
	}
	return n, nil
}

// DeleteStale implements auth.RefreshTokenRepository.
func (s *RefreshTokenStore) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(before) || (t.RevokedAt != nil && t.RevokedAt.Before(before)) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// Tokens returns a snapshot of every stored token.
func (s *RefreshTokenStore) Tokens() []auth.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]auth.RefreshToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	return out
}

// Verify interfaces are satisfied.
var (
	_ auth.AccountRepository      = (*AccountStore)(nil)
	_ auth.RefreshTokenRepository = (*RefreshTokenStore)(nil)
)

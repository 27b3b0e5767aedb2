// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/holoauth/pkg/errutil"
)

var tracer = otel.Tracer("holoauth/auth")

// Operation names used for spans and metrics.
const (
	OpRegister = "register"
	OpLogin    = "login"
	OpLogout   = "logout"
	OpRefresh  = "refresh"
	OpValidate = "validate"
)

// dummyPasswordHash is verified when an email is unknown so that response
// time does not reveal whether the account exists. It matches no password.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=19456,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// AccessTokenIssuer issues and verifies access tokens. TokenSigner implements it.
type AccessTokenIssuer interface {
	Allows(clientID string) bool
	Issue(accountID ulid.ULID, clientID string) (*AccessToken, error)
	Verify(token, clientID string) (string, error)
}

// Recorder receives operation outcomes for metrics.
type Recorder interface {
	RecordAuthOperation(operation string, kind Kind)
	RecordRefreshReuse()
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthOperation(string, Kind) {}
func (noopRecorder) RecordRefreshReuse()              {}

// RegisterInput is the input to Register.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput is the input to Login.
type LoginInput struct {
	Email     string
	Password  string
	ClientID  string
	UserAgent string
	IPAddress string
}

// RefreshInput is the input to Refresh.
type RefreshInput struct {
	RefreshToken string
	ClientID     string
	UserAgent    string
	IPAddress    string
}

// Session is the pair of credentials handed to a client.
type Session struct {
	AccountID        ulid.ULID
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Service provides authentication operations.
type Service struct {
	directory *Directory
	hasher    PasswordHasher
	access    AccessTokenIssuer
	refresh   *RefreshTokenManager
	recorder  Recorder
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	recorder Recorder
	now      func() time.Time
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(o *serviceOptions) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock overrides the clock used for token state and account timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewAuthService creates a new Service using the default logger.
func NewAuthService(accounts AccountRepository, tokens RefreshTokenRepository, hasher PasswordHasher, access AccessTokenIssuer, opts ...ServiceOption) (*Service, error) {
	return NewAuthServiceWithLogger(accounts, tokens, hasher, access, slog.Default(), opts...)
}

// NewAuthServiceWithLogger creates a new Service with an explicit logger.
func NewAuthServiceWithLogger(
	accounts AccountRepository,
	tokens RefreshTokenRepository,
	hasher PasswordHasher,
	access AccessTokenIssuer,
	logger *slog.Logger,
	opts ...ServiceOption,
) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("refresh token repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if access == nil {
		return nil, oops.Errorf("access token issuer is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}

	o := serviceOptions{
		recorder: noopRecorder{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}

	directory, err := NewDirectory(accounts)
	if err != nil {
		return nil, err
	}
	directory.now = o.now

	refresh, err := NewRefreshTokenManager(tokens, logger, WithRefreshClock(o.now))
	if err != nil {
		return nil, err
	}

	return &Service{
		directory: directory,
		hasher:    hasher,
		access:    access,
		refresh:   refresh,
		recorder:  o.recorder,
		logger:    logger,
	}, nil
}

// Directory returns the account directory backing the service.
func (s *Service) Directory() *Directory {
	return s.directory
}

// RefreshTokens returns the refresh token manager backing the service.
func (s *Service) RefreshTokens() *RefreshTokenManager {
	return s.refresh
}

// Register creates an account after checking username and email for
// conflicts. Every conflicting field is reported.
func (s *Service) Register(ctx context.Context, in RegisterInput) (res Result[*Account]) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { s.finish(ctx, span, OpRegister, res.Kind, res.cause) }()

	username := NormalizeUsername(in.Username)
	email := NormalizeEmail(in.Email)
	if username == "" || email == "" || in.Password == "" {
		return Failure[*Account](KindValidation, "username, email and password are required", nil)
	}

	fields, err := s.directory.Conflicts(ctx, username, email)
	if err != nil {
		return Internal[*Account](err)
	}
	if len(fields) > 0 {
		return Conflict[*Account](fields, nil)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Internal[*Account](err)
	}

	account, err := NewAccount(username, email, hash)
	if err != nil {
		return Failure[*Account](KindValidation, "invalid account data", err)
	}
	if err := s.directory.insert(ctx, account); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return Conflict[*Account](conflict.Fields, err)
		}
		return Internal[*Account](err)
	}

	span.SetAttributes(attribute.String("account.id", account.ID.String()))
	return Created(account)
}

// Login verifies credentials and issues an access token for the client plus
// a refresh token bound to the request context.
func (s *Service) Login(ctx context.Context, in LoginInput) (res Result[*Session]) {
	ctx, span := tracer.Start(ctx, "auth.login", trace.WithAttributes(attribute.String("client.id", in.ClientID)))
	defer func() { s.finish(ctx, span, OpLogin, res.Kind, res.cause) }()

	if strings.TrimSpace(in.ClientID) == "" {
		return Failure[*Session](KindBadRequest, MsgMissingClient, nil)
	}

	account, err := s.directory.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// keep timing in line with the known-account path
			_ = s.hasher.Verify(in.Password, dummyPasswordHash)
			return Failure[*Session](KindInvalidCredentials, MsgInvalidCredentials, nil)
		}
		return Internal[*Session](err)
	}

	if !s.hasher.Verify(in.Password, account.PasswordHash) {
		return Failure[*Session](KindUnauthorized, MsgInvalidCredentials, nil)
	}

	access, err := s.access.Issue(account.ID, in.ClientID)
	if err != nil {
		if errutil.HasCode(err, "AUTH_AUDIENCE_REJECTED") {
			return Failure[*Session](KindUnauthorized, MsgInvalidClient, err)
		}
		return Internal[*Session](err)
	}

	raw, token, err := s.refresh.Issue(ctx, account.ID, IssueContext{UserAgent: in.UserAgent, IPAddress: in.IPAddress})
	if err != nil {
		return Internal[*Session](err)
	}

	s.upgradeHash(ctx, account, in.Password)

	span.SetAttributes(attribute.String("account.id", account.ID.String()))
	return Success(&Session{
		AccountID:        account.ID,
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     raw,
		RefreshExpiresAt: token.ExpiresAt,
	})
}

// Logout revokes the refresh token. Unknown, expired, revoked and used
// tokens are all UNAUTHORIZED with the same message.
func (s *Service) Logout(ctx context.Context, rawRefreshToken string) (res Result[struct{}]) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { s.finish(ctx, span, OpLogout, res.Kind, res.cause) }()

	token, err := s.refresh.Redeem(ctx, rawRefreshToken)
	if err != nil {
		if isTokenRejection(err) {
			return Failure[struct{}](KindUnauthorized, MsgInvalidRefresh, err)
		}
		return Internal[struct{}](err)
	}

	if err := s.refresh.Revoke(ctx, token.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Failure[struct{}](KindUnauthorized, MsgInvalidRefresh, err)
		}
		return Internal[struct{}](err)
	}
	return Success(struct{}{})
}

// Refresh exchanges a refresh token for a new access token and a rotated
// refresh token. The presented token is marked used; presenting it again
// revokes every token descended from the same login.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (res Result[*Session]) {
	ctx, span := tracer.Start(ctx, "auth.refresh", trace.WithAttributes(attribute.String("client.id", in.ClientID)))
	defer func() { s.finish(ctx, span, OpRefresh, res.Kind, res.cause) }()

	if strings.TrimSpace(in.ClientID) == "" {
		return Failure[*Session](KindBadRequest, MsgMissingClient, nil)
	}
	if in.RefreshToken == "" {
		return Failure[*Session](KindUnauthorized, MsgInvalidRefresh, nil)
	}
	// reject the audience before the refresh token is consumed
	if !s.access.Allows(in.ClientID) {
		return Failure[*Session](KindUnauthorized, MsgInvalidClient, nil)
	}

	meta := IssueContext{UserAgent: in.UserAgent, IPAddress: in.IPAddress}

	current, err := s.refresh.Redeem(ctx, in.RefreshToken)
	if err != nil {
		if errutil.HasCode(err, "REFRESH_USED") {
			// Rotate revokes the family on reuse
			_, _, err = s.refresh.Rotate(ctx, in.RefreshToken, meta)
		}
		if isTokenRejection(err) {
			return Failure[*Session](KindUnauthorized, MsgInvalidRefresh, err)
		}
		return Internal[*Session](err)
	}

	account, err := s.directory.FindByID(ctx, current.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Failure[*Session](KindUnauthorized, MsgInvalidRefresh, err)
		}
		return Internal[*Session](err)
	}

	nextRaw, next, err := s.refresh.Rotate(ctx, in.RefreshToken, meta)
	if err != nil {
		if isTokenRejection(err) {
			return Failure[*Session](KindUnauthorized, MsgInvalidRefresh, err)
		}
		return Internal[*Session](err)
	}

	access, err := s.access.Issue(account.ID, in.ClientID)
	if err != nil {
		if errutil.HasCode(err, "AUTH_AUDIENCE_REJECTED") {
			return Failure[*Session](KindUnauthorized, MsgInvalidClient, err)
		}
		return Internal[*Session](err)
	}

	span.SetAttributes(attribute.String("account.id", account.ID.String()))
	return Success(&Session{
		AccountID:        account.ID,
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     nextRaw,
		RefreshExpiresAt: next.ExpiresAt,
	})
}

// Validate verifies an access token for the client and returns its active
// account.
func (s *Service) Validate(ctx context.Context, accessToken, clientID string) (res Result[*Account]) {
	ctx, span := tracer.Start(ctx, "auth.validate", trace.WithAttributes(attribute.String("client.id", clientID)))
	defer func() { s.finish(ctx, span, OpValidate, res.Kind, res.cause) }()

	if strings.TrimSpace(clientID) == "" {
		return Failure[*Account](KindBadRequest, MsgMissingClient, nil)
	}
	if accessToken == "" {
		return Failure[*Account](KindUnauthorized, MsgInvalidAccess, nil)
	}

	subject, err := s.access.Verify(accessToken, clientID)
	if err != nil {
		return Failure[*Account](KindUnauthorized, MsgInvalidAccess, err)
	}

	id, err := ulid.Parse(subject)
	if err != nil {
		return Failure[*Account](KindUnauthorized, MsgInvalidAccess, oops.Code("TOKEN_MALFORMED").Wrap(err))
	}

	account, err := s.directory.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Failure[*Account](KindUnauthorized, MsgInvalidAccess, err)
		}
		return Internal[*Account](err)
	}
	return Success(account)
}

// upgradeHash rehashes the password when the stored hash uses outdated
// parameters. Failures are logged and do not affect login.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	if !s.hasher.NeedsUpgrade(account.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "account_id", account.ID.String(), "error", err)
		return
	}
	if _, err := s.directory.Update(ctx, account.ID, AccountUpdate{PasswordHash: &hash}); err != nil {
		s.logger.WarnContext(ctx, "failed to store upgraded password hash", "account_id", account.ID.String(), "error", err)
	}
}

// finish records the outcome of an operation on its span, metrics and logs.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, kind Kind, cause error) {
	defer span.End()

	s.recorder.RecordAuthOperation(op, kind)
	if errutil.HasCode(cause, "REFRESH_REUSED") {
		s.recorder.RecordRefreshReuse()
	}

	if kind == KindNone {
		return
	}
	span.SetAttributes(attribute.String("auth.outcome", string(kind)))
	if kind == KindInternal {
		span.RecordError(cause)
		span.SetStatus(codes.Error, string(kind))
		errutil.LogErrorContext(ctx, s.logger, "auth operation failed", cause, "operation", op)
	}
}

// isTokenRejection reports whether err is an expected refresh token refusal
// rather than a storage failure.
func isTokenRejection(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errutil.HasCode(err, "REFRESH_NOT_FOUND", "REFRESH_INVALID", "REFRESH_USED", "REFRESH_REUSED")
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web serves the holoauth HTTP API.
//
// Every response uses the same envelope. Service results are mapped to
// status codes by kind; request bodies are checked against JSON Schemas
// generated from the request types.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/oops"

	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/pkg/errutil"
)

// Server is the HTTP API server.
type Server struct {
	echo          *echo.Echo
	auth          *auth.Service
	accounts      *auth.AccountService
	logger        *slog.Logger
	observer      HTTPObserver
	secureCookies bool

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithObserver records request metrics on o.
func WithObserver(o HTTPObserver) Option {
	return func(s *Server) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithSecureCookies sets the Secure attribute of the refresh cookie.
// It defaults to true.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) {
		s.secureCookies = secure
	}
}

// NewServer creates a Server with its routes registered.
func NewServer(authService *auth.Service, accounts *auth.AccountService, logger *slog.Logger, opts ...Option) (*Server, error) {
	if authService == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if accounts == nil {
		return nil, oops.Errorf("account service is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}

	s := &Server{
		auth:          authService,
		accounts:      accounts,
		logger:        logger,
		observer:      noopObserver{},
		secureCookies: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(requestID())
	e.Use(s.requestLogger())
	e.Use(s.recoverer())
	e.Use(middleware.BodyLimit(MaxBodySize))

	a := e.Group("/auth")
	a.POST("/register", s.register)
	a.POST("/login", s.login)
	a.POST("/logout", s.logout)
	a.POST("/refresh", s.refresh)
	a.GET("/validate", s.validate, s.requireAccess)

	u := e.Group("/users", s.requireAccess)
	u.GET("", s.listUsers)
	u.GET("/:id", s.getUser)
	u.DELETE("/:id", s.deleteUser)
	u.PATCH("/:id/username", s.changeUsername)
	u.PATCH("/:id/email", s.changeEmail)
	u.PATCH("/:id/password", s.changePassword)

	s.echo = e
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start begins serving on addr. The returned channel receives a serve
// error, if any, and is closed when the server stops.
func (s *Server) Start(addr string) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("API_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("operation", "shutdown_api_server").Wrap(err)
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound address, or "" if the server never started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleError writes err as an envelope. Unexpected errors are logged and
// reported; their details never reach the client.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *apiError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Status >= http.StatusInternalServerError && apiErr.cause != nil {
			s.report(c, apiErr.cause)
		}
	case errors.As(err, &httpErr):
		apiErr = &apiError{Status: httpErr.Code, Message: fmt.Sprint(httpErr.Message)}
		if httpErr.Code >= http.StatusInternalServerError {
			s.report(c, err)
		}
	default:
		errutil.LogErrorContext(c.Request().Context(), s.logger, "request failed", err,
			"route", c.Path())
		s.report(c, err)
		apiErr = &apiError{Status: http.StatusInternalServerError, Message: auth.MsgInternal}
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(apiErr.Status)
	} else {
		writeErr = c.JSON(apiErr.Status, envelope{Message: apiErr.Message, Errors: apiErr.Fields})
	}
	if writeErr != nil {
		s.logger.WarnContext(c.Request().Context(), "failed to write error response", "error", writeErr)
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/holomush/holoauth/internal/auth"
)

// HeaderClientID names the client (audience) a token is requested for.
const HeaderClientID = "X-Client-Id"

// MaxBodySize is the largest accepted request body.
const MaxBodySize = "1M"

const (
	ctxAccountKey  = "account"
	unmatchedRoute = "unmatched"
)

// HTTPObserver receives request measurements. observability.Metrics
// implements it.
type HTTPObserver interface {
	ObserveHTTPRequest(method, route string, status int, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveHTTPRequest(string, string, int, time.Duration) {}

func requestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: echo.HeaderXRequestID,
	})
}

// requestLogger logs each request and records its metrics once the error
// handler has settled the status.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		HandleError:  true,
		LogLatency:   true,
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogStatus:    true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := v.RoutePath
			if route == "" {
				route = unmatchedRoute
			}
			s.observer.ObserveHTTPRequest(v.Method, route, v.Status, v.Latency)

			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			s.logger.LogAttrs(c.Request().Context(), level, "request",
				slog.String("request_id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.String("route", route),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			)
			return nil
		},
	})
}

// recoverer turns panics into INTERNAL responses and reports them.
func (s *Server) recoverer() echo.MiddlewareFunc {
	return middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.logger.ErrorContext(c.Request().Context(), "panic recovered",
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"error", err,
				"stack", string(stack))
			s.report(c, err)
			return &apiError{Status: http.StatusInternalServerError, Message: auth.MsgInternal}
		},
	})
}

// report sends err to Sentry. Without an initialized client it does nothing.
func (s *Server) report(c echo.Context, err error) {
	hub := sentry.GetHubFromContext(c.Request().Context())
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(c.Request())
		scope.SetTag("request_id", c.Response().Header().Get(echo.HeaderXRequestID))
		if route := c.Path(); route != "" {
			scope.SetTag("route", route)
		}
		hub.CaptureException(err)
	})
}

// requireAccess authenticates the bearer token for the X-Client-Id audience
// and stores the account on the context.
func (s *Server) requireAccess(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		token := bearerToken(req.Header.Get(echo.HeaderAuthorization))

		res := s.auth.Validate(req.Context(), token, req.Header.Get(HeaderClientID))
		if !res.OK() {
			return resultError(res)
		}
		c.Set(ctxAccountKey, res.Value)
		return next(c)
	}
}

// currentAccount returns the account stored by requireAccess.
func currentAccount(c echo.Context) *auth.Account {
	account, _ := c.Get(ctxAccountKey).(*auth.Account)
	return account
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/holomush/holoauth/internal/auth"
)

type accountView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func viewAccount(a *auth.Account) accountView {
	return accountView{
		ID:        a.ID.String(),
		Username:  a.Username,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func viewAccounts(accounts []*auth.Account) []accountView {
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, viewAccount(a))
	}
	return views
}

type tokenView struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (s *Server) register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, SchemaRegister, &req); err != nil {
		return err
	}
	if weak := passwordStrength("password", req.Password); len(weak) > 0 {
		return validationError(weak...)
	}

	res := s.auth.Register(c.Request().Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	return respond(c, res, viewAccount)
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, SchemaLogin, &req); err != nil {
		return err
	}

	r := c.Request()
	res := s.auth.Login(r.Context(), auth.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		ClientID:  r.Header.Get(HeaderClientID),
		UserAgent: r.UserAgent(),
		IPAddress: c.RealIP(),
	})
	return s.session(c, res)
}

func (s *Server) refresh(c echo.Context) error {
	r := c.Request()
	res := s.auth.Refresh(r.Context(), auth.RefreshInput{
		RefreshToken: refreshCookie(c),
		ClientID:     r.Header.Get(HeaderClientID),
		UserAgent:    r.UserAgent(),
		IPAddress:    c.RealIP(),
	})
	return s.session(c, res)
}

// session hands a new session to the client: the refresh token as a cookie,
// the access token in the body.
func (s *Server) session(c echo.Context, res auth.Result[*auth.Session]) error {
	if !res.OK() {
		return resultError(res)
	}
	s.setRefreshCookie(c, res.Value.RefreshToken, res.Value.RefreshExpiresAt)
	return c.JSON(http.StatusOK, envelope{Data: tokenView{
		AccessToken: res.Value.AccessToken,
		ExpiresAt:   res.Value.AccessExpiresAt,
	}})
}

func (s *Server) logout(c echo.Context) error {
	res := s.auth.Logout(c.Request().Context(), refreshCookie(c))
	if !res.OK() {
		return resultError(res)
	}
	s.clearRefreshCookie(c)
	return message(c, http.StatusOK, "logged out")
}

func (s *Server) validate(c echo.Context) error {
	return c.JSON(http.StatusOK, envelope{Data: viewAccount(currentAccount(c))})
}

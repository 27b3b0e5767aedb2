// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/holomush/holoauth/internal/auth"
)

// MsgNotOwner is returned when an account tries to modify another account.
const MsgNotOwner = "accounts can only modify themselves"

func (s *Server) listUsers(c echo.Context) error {
	return respond(c, s.accounts.List(c.Request().Context(), false), viewAccounts)
}

func (s *Server) getUser(c echo.Context) error {
	id, err := ulid.Parse(c.Param("id"))
	if err != nil {
		return &apiError{Status: http.StatusNotFound, Message: auth.MsgAccountNotFound}
	}
	return respond(c, s.accounts.Get(c.Request().Context(), id), viewAccount)
}

func (s *Server) deleteUser(c echo.Context) error {
	id, err := ownID(c)
	if err != nil {
		return err
	}
	res := s.accounts.Delete(c.Request().Context(), id)
	if !res.OK() {
		return resultError(res)
	}
	return message(c, http.StatusOK, "account deleted")
}

func (s *Server) changeUsername(c echo.Context) error {
	id, err := ownID(c)
	if err != nil {
		return err
	}
	var req usernameRequest
	if err := bind(c, SchemaUsername, &req); err != nil {
		return err
	}
	return respond(c, s.accounts.ChangeUsername(c.Request().Context(), id, req.Username), viewAccount)
}

func (s *Server) changeEmail(c echo.Context) error {
	id, err := ownID(c)
	if err != nil {
		return err
	}
	var req emailRequest
	if err := bind(c, SchemaEmail, &req); err != nil {
		return err
	}
	return respond(c, s.accounts.ChangeEmail(c.Request().Context(), id, req.Email), viewAccount)
}

func (s *Server) changePassword(c echo.Context) error {
	id, err := ownID(c)
	if err != nil {
		return err
	}
	var req passwordRequest
	if err := bind(c, SchemaPassword, &req); err != nil {
		return err
	}
	if weak := passwordStrength("newPassword", req.NewPassword); len(weak) > 0 {
		return validationError(weak...)
	}

	res := s.accounts.ChangePassword(c.Request().Context(), id, req.CurrentPassword, req.NewPassword)
	if !res.OK() {
		return resultError(res)
	}
	return message(c, http.StatusOK, "password changed")
}

// ownID returns the :id path parameter when it names the authenticated
// account.
func ownID(c echo.Context) (ulid.ULID, error) {
	self := currentAccount(c)
	id, err := ulid.Parse(c.Param("id"))
	if err != nil || self == nil || id != self.ID {
		return ulid.ULID{}, &apiError{Status: http.StatusForbidden, Message: MsgNotOwner}
	}
	return id, nil
}

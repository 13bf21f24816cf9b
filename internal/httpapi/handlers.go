// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/partforge/partforge/internal/auth"
	"github.com/partforge/partforge/pkg/errutil"
)

// maxBodyBytes bounds request bodies; no auth payload is anywhere near
// this large.
const maxBodyBytes = 16 << 10

// Redirect targets for the verification link, served by the static
// frontend.
const (
	verifySuccessPage = "/verify-success.html"
	verifyFailedPage  = "/verify-failed.html"
)

// linkInvalidMessage is the only thing a requester learns about a
// rejected token, regardless of its terminal state.
const linkInvalidMessage = "link is invalid or expired"

type userResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Email:    u.Email,
		Username: u.Username,
		Active:   u.Active,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, field string) {
	s.writeJSON(w, status, errorResponse{Error: message, Field: field})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return oops.Code("API_BAD_REQUEST").Wrap(err)
	}
	return nil
}

// errCode extracts the oops code, empty for plain errors.
func errCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		code, _ := oopsErr.Code().(string)
		return code
	}
	return ""
}

// serverError logs the fault with its oops context and returns an
// opaque 500.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	logger := s.logger.With("request_id", RequestIDFromContext(r.Context()))
	errutil.LogError(logger, "request failed", err)
	s.writeError(w, http.StatusInternalServerError, "internal error", "")
}

// rateLimited writes 429 with the Retry-After header when err is the
// cooldown rejection; it reports whether it handled the error.
func (s *Server) rateLimited(w http.ResponseWriter, err error) bool {
	var limited *auth.RateLimitedError
	if !errors.As(err, &limited) {
		return false
	}
	w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfter))
	s.writeError(w, http.StatusTooManyRequests, "too many requests", "")
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}
	if req.Email == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "email and password are required", "")
		return
	}

	user, session, err := s.auth.Register(r.Context(), req.Email, req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrEmailTaken):
		s.writeError(w, http.StatusConflict, "email already registered", "email")
		return
	case errors.Is(err, auth.ErrUsernameTaken):
		s.writeError(w, http.StatusConflict, "username already taken", "username")
		return
	case errCode(err) == "AUTH_INVALID_USERNAME":
		s.writeError(w, http.StatusBadRequest, "invalid username", "username")
		return
	case errors.Is(err, auth.ErrEmptySecret):
		s.writeError(w, http.StatusBadRequest, "password cannot be empty", "password")
		return
	default:
		s.serverError(w, r, err)
		return
	}

	s.setSessionCookie(w, session.ID.String(), session.RemainingSeconds(time.Now()))
	s.writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}

	user, session, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.writeError(w, http.StatusUnauthorized, "invalid email or password", "")
			return
		}
		s.serverError(w, r, err)
		return
	}

	s.setSessionCookie(w, session.ID.String(), session.RemainingSeconds(time.Now()))
	s.writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), s.sessionCookie(r)); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _, err := s.auth.CurrentUser(r.Context(), s.sessionCookie(r))
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if user == nil {
		s.writeError(w, http.StatusUnauthorized, "not logged in", "")
		return
	}
	s.writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	result, err := s.auth.VerifySignup(r.Context(), token, s.sessionCookie(r))
	if err != nil {
		var invalid *auth.InvalidTokenError
		if errors.As(err, &invalid) {
			http.Redirect(w, r, verifyFailedPage, http.StatusSeeOther)
			return
		}
		s.serverError(w, r, err)
		return
	}

	s.applyCookie(w, result.Cookie)

	target := verifySuccessPage
	if result.RequiresLogin {
		target += "?login=1"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Email == "" {
		s.writeError(w, http.StatusBadRequest, "email is required", "email")
		return
	}

	if err := s.auth.ResendSignupVerification(r.Context(), req.Email); err != nil {
		if s.rateLimited(w, err) {
			return
		}
		s.serverError(w, r, err)
		return
	}

	// Same response whether or not the address has an account.
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Email == "" {
		s.writeError(w, http.StatusBadRequest, "email is required", "email")
		return
	}

	if err := s.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		if s.rateLimited(w, err) {
			return
		}
		s.serverError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}
	if req.Token == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "token and password are required", "")
		return
	}

	err := s.auth.ResetPassword(r.Context(), req.Token, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrPasswordReused):
		s.writeError(w, http.StatusBadRequest, "new password must differ from the current password", "password")
		return
	case errors.Is(err, auth.ErrEmptySecret):
		s.writeError(w, http.StatusBadRequest, "password cannot be empty", "password")
		return
	default:
		var invalid *auth.InvalidTokenError
		if errors.As(err, &invalid) {
			s.writeError(w, http.StatusBadRequest, linkInvalidMessage, "token")
			return
		}
		s.serverError(w, r, err)
		return
	}

	// All sessions were revoked server-side; drop the stale cookie too.
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Registration uniqueness violations. Repositories map database
// constraint errors onto these so handlers can blame the right field.
var (
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
)

// ErrPasswordReused is returned by ResetPassword when the new password
// matches the current one. The consume that preceded it must roll back.
var ErrPasswordReused = errors.New("new password must differ from the current password")

// TokenState is the terminal state of a failed token validation. It is
// recorded in logs and metrics only; requesters always see the same
// generic "link invalid" outcome regardless of state.
type TokenState string

// Terminal validation states.
const (
	TokenStateInvalid         TokenState = "invalid"
	TokenStateExpired         TokenState = "expired"
	TokenStateUsed            TokenState = "used"
	TokenStateSuperseded      TokenState = "superseded"
	TokenStateAlreadyVerified TokenState = "already_verified"
)

// InvalidTokenError reports a token validation failure together with
// the terminal state that caused it.
type InvalidTokenError struct {
	State TokenState
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("verification token rejected (state=%s)", e.State)
}

// invalidToken is shorthand for the common construction sites.
func invalidToken(state TokenState) *InvalidTokenError {
	return &InvalidTokenError{State: state}
}

// RateLimitedError reports that a token issuance was blocked by the
// resend cooldown. RetryAfter is whole seconds, never below 1, suitable
// for a Retry-After header.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many requests, retry after %ds", e.RetryAfter)
}

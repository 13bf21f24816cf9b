// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth

import "time"

// SetNow overrides the service clock for deterministic tests.
func (s *VerificationTokenService) SetNow(now func() time.Time) { s.now = now }

// SetNow overrides the service clock for deterministic tests.
func (s *SessionService) SetNow(now func() time.Time) { s.now = now }

// SetNow overrides the service clock for deterministic tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

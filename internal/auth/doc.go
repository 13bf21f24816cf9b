// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

// Package auth is the verification-token and session-lifecycle engine
// behind the PartForge accounts API.
//
// # Domain Types
//
// Domain types (User, Session, VerificationToken) are plain records;
// Session should be created through NewSession so the id, kind, and
// expiry are validated together. A verification token's secret exists
// only inside the public token string "{id}.{secret}" handed to the
// email collaborator; storage sees the hash.
//
// # Services
//
// Service types coordinate domain operations:
//   - VerificationTokenService - issue, validate, consume tokens
//   - SessionService - create, validate, rotate, revoke sessions
//   - Service - the composed signup/login/reset flows
//
// Services are created with New* constructors that validate
// dependencies. Consume and its dependent action (activating a user,
// changing a password) must share one Transactor.InTransaction scope;
// the repositories pick the transaction up from the context.
package auth

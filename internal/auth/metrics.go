// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// outcomeValid is the validation outcome label for a token that passed
// the whole state machine.
const outcomeValid = "valid"

// Package-level counters so services can record without carrying a
// metrics handle. RegisterMetrics wires them into a registry.
var (
	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partforge_tokens_issued_total",
			Help: "Total number of verification tokens issued by purpose",
		},
		[]string{"purpose"},
	)

	tokenValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partforge_token_validations_total",
			Help: "Total number of token validations by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	sessionsRotated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partforge_sessions_rotated_total",
			Help: "Total number of sessions replaced by rotation",
		},
	)

	sessionsRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partforge_sessions_revoked_total",
			Help: "Total number of sessions explicitly revoked",
		},
	)
)

// RegisterMetrics registers the auth counters with a registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(tokensIssued, tokenValidations, sessionsRotated, sessionsRevoked)
}

func recordTokenIssued(purpose TokenPurpose) {
	tokensIssued.WithLabelValues(string(purpose)).Inc()
}

func recordTokenValidation(purpose TokenPurpose, outcome string) {
	tokenValidations.WithLabelValues(string(purpose), outcome).Inc()
}

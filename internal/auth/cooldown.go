// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package auth

import (
	"math"
	"time"
)

// ResendDecision is the result of a resend cooldown check.
type ResendDecision struct {
	// Allowed reports whether a new token may be issued now.
	Allowed bool

	// RetryAfter is the whole seconds to wait when blocked, rounded
	// up and never below 1. Zero when allowed.
	RetryAfter int
}

// CheckResend decides whether a new token may be issued given the
// creation time of the latest token for the same user and purpose.
// latestIssuedAt is nil when no prior token exists, which always
// allows. minInterval comes from per-purpose configuration.
func CheckResend(latestIssuedAt *time.Time, minInterval time.Duration, now time.Time) ResendDecision {
	if latestIssuedAt == nil {
		return ResendDecision{Allowed: true}
	}

	waitUntil := latestIssuedAt.Add(minInterval)
	if !now.Before(waitUntil) {
		return ResendDecision{Allowed: true}
	}

	remaining := int(math.Ceil(waitUntil.Sub(now).Seconds()))
	if remaining < 1 {
		remaining = 1
	}
	return ResendDecision{RetryAfter: remaining}
}

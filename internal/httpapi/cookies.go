// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package httpapi

import (
	"net/http"

	"github.com/partforge/partforge/internal/auth"
)

// sessionCookie reads the raw session cookie value, empty when absent.
func (s *Server) sessionCookie(r *http.Request) string {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// setSessionCookie writes the session cookie with the remaining
// lifetime in seconds.
func (s *Server) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie expires the session cookie at the client.
func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// applyCookie translates a service cookie instruction to Set-Cookie.
func (s *Server) applyCookie(w http.ResponseWriter, c auth.SessionCookie) {
	switch {
	case c.Clear:
		s.clearSessionCookie(w)
	case c.Value != "":
		s.setSessionCookie(w, c.Value, c.MaxAge)
	}
}

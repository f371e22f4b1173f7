/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"path"
	"strings"

	"gorm.io/gorm"
)

// wsStatePath is the one endpoint allowed to authenticate through a
// query parameter: browsers cannot attach headers to a WebSocket dial.
const wsStatePath = "/api/v1/ws"

// Middleware admits API keys only (X-API-Key header). The ducking
// surface is wrapped with this variant so browser sessions cannot reach
// machine-only endpoints.
func Middleware(db *gorm.DB) func(http.Handler) http.Handler {
	return MiddlewareWithJWT(db, nil)
}

// MiddlewareWithJWT admits API keys or session bearer tokens and puts
// the resolved Claims in the request context. A nil jwtSecret disables
// the session path.
func MiddlewareWithJWT(db *gorm.DB, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := resolveClaims(db, jwtSecret, r)
			if claims == nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// resolveClaims tries the accepted credentials in order. A present but
// invalid API key fails the request outright rather than falling
// through to the session path.
func resolveClaims(db *gorm.DB, jwtSecret []byte, r *http.Request) *Claims {
	if key := r.Header.Get("X-API-Key"); key != "" {
		claims, err := ValidateAPIKey(db, key)
		if err != nil {
			return nil
		}
		return claims
	}

	if jwtSecret == nil {
		return nil
	}
	token := sessionToken(r)
	if token == "" {
		return nil
	}
	claims, err := Parse(jwtSecret, token)
	if err != nil || claims == nil {
		return nil
	}
	return claims
}

// sessionToken reads the bearer token from the Authorization header,
// falling back to the token query parameter only for the state
// WebSocket upgrade.
func sessionToken(r *http.Request) string {
	if scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}

	upgrading := strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
	if upgrading && path.Clean(r.URL.Path) == wsStatePath {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

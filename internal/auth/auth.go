// vsmanager is a control-plane daemon for a co-located game server.
// Copyright (C) 2026 vsmanager contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package auth verifies the X-API-Key header against the two configured
// static keys and resolves the caller's role. Comparisons are constant
// time so key material can never be recovered by timing the response.
package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"vsmanager/internal/apierr"
	"vsmanager/internal/ctxkeys"
)

// Role is one of the two static permission levels.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleMonitor Role = "monitor"
)

// Verifier holds the two configured API keys and resolves a presented
// key to a role.
type Verifier struct {
	adminKey   string
	monitorKey string
	log        *slog.Logger
}

// New constructs a Verifier. adminKey must be non-empty; monitorKey may
// be empty to disable the monitor role entirely. log may be nil, in
// which case failed attempts are not recorded.
func New(adminKey, monitorKey string, log *slog.Logger) *Verifier {
	return &Verifier{adminKey: adminKey, monitorKey: monitorKey, log: log}
}

// Verify resolves key to a role using constant-time, byte-exact
// comparison. The admin key is checked first, so a deployment that
// reuses the same value for both keys always resolves to admin.
func (v *Verifier) Verify(key string) (Role, error) {
	if key == "" {
		return "", apierr.New(apierr.CodeUnauthorized, "API key required")
	}
	if constantTimeEqual(key, v.adminKey) {
		return RoleAdmin, nil
	}
	if v.monitorKey != "" && constantTimeEqual(key, v.monitorKey) {
		return RoleMonitor, nil
	}
	if v.log != nil {
		v.log.Warn("api_key_rejected", "key", redactKey(key))
	}
	return "", apierr.New(apierr.CodeUnauthorized, "Invalid API key")
}

// redactKey shows enough of a rejected key to distinguish "wrong key
// entirely" from "stale/rotated key" in logs, without ever writing a
// full key value.
func redactKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func constantTimeEqual(a, b string) bool {
	if b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RequireAuth is HTTP middleware that verifies X-API-Key and stores the
// resolved role in the request context.
func (v *Verifier) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, err := v.Verify(r.Header.Get("X-API-Key"))
		if err != nil {
			writeUnauthorized(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxkeys.Role, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin wraps next so only RoleAdmin may proceed; it must run
// after RequireAuth has populated the role in context.
func RequireAdmin(next http.Handler) http.Handler {
	return requireRole(next, RoleAdmin, "admin access required")
}

// RequireConsoleAccess is identical to RequireAdmin but with a message
// specific to the console surface, matching the source's more specific
// rejection wording for that one permission.
func RequireConsoleAccess(next http.Handler) http.Handler {
	return requireRole(next, RoleAdmin, "console access requires the admin role")
}

func requireRole(next http.Handler, role Role, message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := r.Context().Value(ctxkeys.Role).(Role)
		if got != role {
			writeForbidden(w, apierr.New(apierr.CodeForbidden, message))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RoleFromContext extracts the role stored by RequireAuth, if any.
func RoleFromContext(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(ctxkeys.Role).(Role)
	return role, ok
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	writeError(w, http.StatusUnauthorized, err)
}

func writeForbidden(w http.ResponseWriter, err error) {
	writeError(w, http.StatusForbidden, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	ae, _ := apierr.As(err)
	_, _ = w.Write([]byte(`{"detail":{"code":"` + string(ae.Code) + `","message":"` + ae.Message + `"}}`))
}

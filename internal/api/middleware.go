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

package api

import (
	"net/http"

	"vsmanager/internal/ctxkeys"
)

// recoverPanic turns a handler panic into a 500 instead of killing the
// process; the game server itself keeps running regardless of a bug in
// the control-plane HTTP surface.
func recoverPanic(log logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic_recovered", "panic", rec, "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"detail":{"code":"internal","message":"internal server error"}}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// withCorrelationID stamps every request with an ID used to stitch
// together its log lines, generating one when the caller didn't supply
// X-Correlation-ID.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Correlation-ID"); id != "" {
			ctx = ctxkeys.WithCorrelationID(ctx, id)
		} else {
			ctx, _ = ctxkeys.EnsureCorrelationID(ctx)
		}
		w.Header().Set("X-Correlation-ID", ctxkeys.GetCorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(log logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cid := ctxkeys.GetCorrelationID(r.Context())
			log.Info("http_request", "method", r.Method, "path", r.URL.Path, "correlation_id", cid)
			next.ServeHTTP(w, r)
		})
	}
}

// logger is the minimal slog surface middleware needs, kept narrow so
// tests can supply a stub without depending on slog directly.
type logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

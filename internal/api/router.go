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
	"strings"
	"time"

	"vsmanager/internal/auth"
	"vsmanager/internal/httpmiddleware"
	"vsmanager/internal/obs"
)

// NewRouter builds the complete /api/v1alpha1 mux: liveness probes are
// unauthenticated, everything else requires a valid API key, and the
// state-changing routes, the console routes, the API settings view, the
// metrics readouts and job introspection additionally require the admin
// role.
func (h *Handler) NewRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	authed := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.verifier.RequireAuth(fn))
	}
	adminOnly := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.verifier.RequireAuth(auth.RequireAdmin(fn)))
	}
	consoleOnly := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.verifier.RequireAuth(auth.RequireConsoleAccess(fn)))
	}

	authed("GET /auth/me", h.handleAuthMe)
	authed("POST /auth/ws-token", h.handleAuthWSToken)

	authed("GET /server", h.handleServer)
	adminOnly("POST /server", h.handleServer)
	adminOnly("DELETE /server", h.handleServer)

	authed("GET /versions", h.handleVersions)
	mux.HandleFunc("GET /versions/{version}", func(w http.ResponseWriter, r *http.Request) {
		h.withAuth(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleVersionDetail(w, r, r.PathValue("version"))
		})
	})

	authed("GET /config/game", h.handleConfigGame)
	mux.HandleFunc("POST /config/game/settings/{key}", func(w http.ResponseWriter, r *http.Request) {
		h.withAdmin(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleConfigGameSetting(w, r, r.PathValue("key"))
		})
	})
	adminOnly("GET /config/api", h.handleConfigAPI)
	mux.HandleFunc("POST /config/api/settings/{key}", func(w http.ResponseWriter, r *http.Request) {
		h.withAdmin(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleConfigAPISetting(w, r, r.PathValue("key"))
		})
	})
	authed("GET /config/files", h.handleConfigFiles)
	mux.HandleFunc("GET /config/files/{name}", func(w http.ResponseWriter, r *http.Request) {
		h.withAuth(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleConfigFile(w, r, r.PathValue("name"))
		})
	})

	authed("GET /mods", h.handleMods)
	mux.HandleFunc("GET /mods/{slug}", func(w http.ResponseWriter, r *http.Request) {
		h.withAuth(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleModDetail(w, r, r.PathValue("slug"))
		})
	})
	adminOnly("POST /mods/lookup", h.handleModLookup)
	adminOnly("POST /mods/install", h.handleModInstall)
	mux.HandleFunc("POST /mods/{slug}/enable", func(w http.ResponseWriter, r *http.Request) {
		h.withAdmin(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleModEnable(w, r, r.PathValue("slug"))
		})
	})
	mux.HandleFunc("POST /mods/{slug}/disable", func(w http.ResponseWriter, r *http.Request) {
		h.withAdmin(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleModDisable(w, r, r.PathValue("slug"))
		})
	})
	mux.HandleFunc("DELETE /mods/{slug}", func(w http.ResponseWriter, r *http.Request) {
		h.withAdmin(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleModRemove(w, r, r.PathValue("slug"))
		})
	})

	consoleOnly("GET /console/history", h.handleConsoleHistory)
	consoleOnly("POST /console/command", h.handleConsoleCommand)
	mux.HandleFunc("GET /console/ws", h.handleConsoleWS)
	consoleOnly("GET /console/logs", h.handleConsoleLogs)
	mux.HandleFunc("GET /console/logs/ws", h.handleConsoleLogsWS)

	adminOnly("GET /metrics/current", h.handleMetricsCurrent)
	adminOnly("GET /metrics/history", h.handleMetricsHistory)

	adminOnly("GET /jobs", h.handleJobs)
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.withAdmin(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleJobDetail(w, r, r.PathValue("id"))
		})
	})
	mux.HandleFunc("DELETE /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.withAdmin(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.handleJobDetail(w, r, r.PathValue("id"))
		})
	})

	root := http.NewServeMux()
	root.Handle("/api/v1alpha1/", http.StripPrefix("/api/v1alpha1", mux))
	root.Handle("/metrics", obs.Handler())

	secCfg := httpmiddleware.DefaultSecurityHeadersConfig()
	if len(h.corsOrigins) > 0 {
		secCfg.EnableCORS = true
		secCfg.CORSAllowedOrigins = h.corsOrigins
		secCfg.CORSAllowedHeaders = []string{"Content-Type", "X-API-Key", "X-Correlation-ID"}
	}
	rateLimited := httpmiddleware.NewRateLimiter(httpmiddleware.DefaultRateLimitConfig())

	return chain(root,
		recoverPanic(h.log),
		withCorrelationID,
		requestLogger(h.log),
		observeRequests,
		httpmiddleware.SecurityHeaders(secCfg),
		rateLimitOnAuthRoutes(rateLimited),
	)
}

// observeRequests wraps next so every request's outcome lands in the
// vsmanager_http_requests_total/duration metrics.
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		obs.ObserveHTTPRequest(r.Method, normalizeMetricPath(r.URL.Path), sw.status, time.Since(start))
	})
}

// normalizeMetricPath collapses the handful of id/slug/version path
// segments down to a placeholder so per-resource traffic doesn't create
// one metric series per mod slug or game version.
func normalizeMetricPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	collapsible := map[string]bool{
		"versions": true, "mods": true, "jobs": true, "files": true, "settings": true,
	}
	for i := 1; i < len(segments); i++ {
		if collapsible[segments[i-1]] && segments[i] != "" && segments[i] != "lookup" && segments[i] != "install" {
			segments[i] = "{id}"
		}
	}
	return "/" + strings.Join(segments, "/")
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withAuth runs fn after verifying the caller's API key, for routes that
// need the path value extracted before dispatching to a handler with an
// extra parameter (net/http's pattern handlers don't compose with
// middleware directly when the next hop needs the matched path value).
func (h *Handler) withAuth(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	h.verifier.RequireAuth(fn).ServeHTTP(w, r)
}

func (h *Handler) withAdmin(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	h.verifier.RequireAuth(auth.RequireAdmin(fn)).ServeHTTP(w, r)
}

// rateLimitOnAuthRoutes throttles only the login-adjacent surface
// (ws-token issuance and console command submission), leaving
// high-frequency polling routes like /metrics/current unthrottled.
func rateLimitOnAuthRoutes(rl *httpmiddleware.RateLimiter) func(http.Handler) http.Handler {
	limited := []string{"/api/v1alpha1/auth/ws-token", "/api/v1alpha1/console/command"}
	return func(next http.Handler) http.Handler {
		limitedNext := rl.Middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range limited {
				if strings.HasPrefix(r.URL.Path, p) {
					limitedNext.ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

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

// Package api is the HTTP adapter exposing every control-plane component
// under /api/v1alpha1: request envelopes, role-gated routing, and the
// console WebSocket upgrade. Handlers are thin translators onto the core
// packages; none of this package's types cross a package boundary.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"vsmanager/internal/apierr"
	"vsmanager/internal/apisettings"
	"vsmanager/internal/applog"
	"vsmanager/internal/auth"
	"vsmanager/internal/consolering"
	"vsmanager/internal/gameconfig"
	"vsmanager/internal/metricsring"
	"vsmanager/internal/modmanager"
	"vsmanager/internal/restart"
	"vsmanager/internal/scheduler"
	"vsmanager/internal/supervisor"
	"vsmanager/internal/versioncache"
	"vsmanager/internal/wstoken"
)

// ConfigFile names one raw on-disk file exposed read-only via
// /config/files.
type ConfigFile struct {
	Name string
	Path string
}

// Handler holds every component the HTTP surface fronts. It carries no
// state of its own beyond wiring.
type Handler struct {
	log *slog.Logger

	verifier *auth.Verifier
	wsTokens *wstoken.Service

	sup          *supervisor.Supervisor
	versions     *versioncache.Cache
	gameConfig   *gameconfig.Service
	apiConfig    *apisettings.Service
	mods         *modmanager.Manager
	console      *consolering.Ring
	restartState *restart.State
	metrics      *metricsring.Ring
	sched        *scheduler.Scheduler
	configFiles  []ConfigFile
	logsDir      string
	audit        *applog.AuditLog

	corsOrigins         []string
	defaultHistoryLines int
	ready               func() bool
}

// Dependencies is everything New needs to build a Handler. Grouped into
// one struct because the constructor otherwise carries a dozen
// positional arguments drawn from independently-built components.
type Dependencies struct {
	Log          *slog.Logger
	Verifier     *auth.Verifier
	WSTokens     *wstoken.Service
	Supervisor   *supervisor.Supervisor
	Versions     *versioncache.Cache
	GameConfig   *gameconfig.Service
	APIConfig    *apisettings.Service
	Mods         *modmanager.Manager
	Console      *consolering.Ring
	RestartState *restart.State
	Metrics      *metricsring.Ring
	Scheduler    *scheduler.Scheduler
	ConfigFiles  []ConfigFile
	// LogsDir is the directory holding the game server's historic log
	// files, exposed read-only via /console/logs and /console/logs/ws.
	LogsDir string
	// Audit records admin-initiated state changes; nil disables it.
	Audit               *applog.AuditLog
	CORSOrigins         []string
	DefaultHistoryLines int
	// Ready reports whether the process has finished startup
	// initialization; readyz fails until this returns true. Nil means
	// always ready.
	Ready func() bool
}

// New constructs a Handler from deps.
func New(deps Dependencies) *Handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	lines := deps.DefaultHistoryLines
	if lines <= 0 {
		lines = 200
	}
	return &Handler{
		log:                 log,
		verifier:            deps.Verifier,
		wsTokens:            deps.WSTokens,
		sup:                 deps.Supervisor,
		versions:            deps.Versions,
		gameConfig:          deps.GameConfig,
		apiConfig:           deps.APIConfig,
		mods:                deps.Mods,
		console:             deps.Console,
		restartState:        deps.RestartState,
		metrics:             deps.Metrics,
		sched:               deps.Scheduler,
		configFiles:         deps.ConfigFiles,
		logsDir:             deps.LogsDir,
		audit:               deps.Audit,
		corsOrigins:         deps.CORSOrigins,
		defaultHistoryLines: lines,
		ready:               deps.Ready,
	}
}

// envelope is the success-path response shape for every JSON endpoint.
type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "ok", Data: data})
}

type detailBody struct {
	Detail struct {
		Code    apierr.Code `json:"code"`
		Message string      `json:"message"`
	} `json:"detail"`
}

func writeErr(w http.ResponseWriter, err error) {
	ae, _ := apierr.As(err)
	if ae == nil {
		ae = apierr.Wrap(apierr.CodeInternal, "unexpected error", err)
	}
	var body detailBody
	body.Detail.Code = ae.Code
	body.Detail.Message = ae.Message
	writeJSON(w, apierr.Status(ae), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response_encode_failed", "error", err)
	}
}

// recordAudit appends one admin-audit event, pulling the caller's role
// out of the request context.
func (h *Handler) recordAudit(r *http.Request, action, target string, err error) {
	role, _ := auth.RoleFromContext(r.Context())
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	h.audit.RecordEvent(applog.AuditEvent{
		Timestamp: time.Now(),
		Action:    action,
		Target:    target,
		Role:      string(role),
		Success:   err == nil,
		Detail:    detail,
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.CodeInternal, "malformed JSON body", err)
	}
	return nil
}

// --- Liveness / readiness -------------------------------------------------

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Auth ------------------------------------------------------------------

func (h *Handler) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	role, _ := auth.RoleFromContext(r.Context())
	writeOK(w, http.StatusOK, map[string]string{"role": string(role)})
}

func (h *Handler) handleAuthWSToken(w http.ResponseWriter, r *http.Request) {
	role, _ := auth.RoleFromContext(r.Context())
	token, _, expiresAt, err := h.wsTokens.Create(role)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.CodeInternal, "failed to issue websocket token", err))
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"token":              token,
		"expires_at":         expiresAt,
		"expires_in_seconds": int(time.Until(expiresAt).Round(time.Second).Seconds()),
	})
}

// --- Server lifecycle (C10) -------------------------------------------------

type serverStatusResponse struct {
	State          supervisor.State `json:"state"`
	PID            int              `json:"pid,omitempty"`
	LastExitCode   *int             `json:"last_exit_code,omitempty"`
	PendingRestart bool             `json:"pending_restart"`
	RestartReasons []string         `json:"restart_reasons,omitempty"`
}

func (h *Handler) handleServer(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleServerStatus(w, r)
	case http.MethodPost:
		h.handleServerAction(w, r)
	case http.MethodDelete:
		h.handleServerUninstall(w, r)
	default:
		writeErr(w, apierr.New(apierr.CodeInternal, "method not allowed"))
	}
}

func (h *Handler) handleServerStatus(w http.ResponseWriter, _ *http.Request) {
	resp := serverStatusResponse{
		State:          h.sup.State(),
		PendingRestart: h.restartState.Pending(),
		RestartReasons: h.restartState.Reasons(),
	}
	if pid, ok := h.sup.ProcessInfo(); ok {
		resp.PID = pid
	}
	if code, ok := h.sup.LastExitCode(); ok {
		resp.LastExitCode = &code
	}
	writeOK(w, http.StatusOK, resp)
}

type serverActionRequest struct {
	Action  string `json:"action"`
	Version string `json:"version,omitempty"`
	Channel string `json:"channel,omitempty"`
}

func (h *Handler) handleServerAction(w http.ResponseWriter, r *http.Request) {
	var req serverActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	var err error
	switch req.Action {
	case "install":
		err = h.sup.InstallServer(r.Context(), req.Version, req.Channel)
	case "start":
		err = h.sup.StartServer(r.Context())
	case "stop":
		err = h.sup.StopServer(r.Context())
	default:
		writeErr(w, apierr.New(apierr.CodeInternal, "unknown server action"))
		return
	}
	h.recordAudit(r, "server."+req.Action, req.Version, err)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.handleServerStatus(w, r)
}

func (h *Handler) handleServerUninstall(w http.ResponseWriter, r *http.Request) {
	err := h.sup.UninstallServer()
	h.recordAudit(r, "server.uninstall", "", err)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"status": "uninstalled"})
}

// --- Version cache (C12) ----------------------------------------------------

func (h *Handler) handleVersions(w http.ResponseWriter, r *http.Request) {
	channels := h.versions.Channels()
	if len(channels) == 0 {
		writeErr(w, apierr.New(apierr.CodeExternalAPI, "no cached version data and remote is unavailable"))
		return
	}
	out := make(map[string]versioncache.Snapshot, len(channels))
	for _, ch := range channels {
		if snap, ok := h.versions.Get(ch); ok {
			out[ch] = snap
		}
	}
	writeOK(w, http.StatusOK, out)
}

func (h *Handler) handleVersionDetail(w http.ResponseWriter, r *http.Request, version string) {
	for _, ch := range h.versions.Channels() {
		snap, ok := h.versions.Get(ch)
		if !ok {
			continue
		}
		for _, v := range snap.Versions {
			if v.Version == version {
				writeOK(w, http.StatusOK, v)
				return
			}
		}
	}
	writeErr(w, apierr.New(apierr.CodeVersionNotFound, "version not found in cache"))
}

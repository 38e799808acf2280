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

// Package applog builds the process-wide slog.Logger and a narrow audit
// trail for admin actions (install/start/stop, mod changes, config
// edits) separate from routine request/debug logging.
package applog

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// New builds the process-wide structured logger. level is one of
// "debug", "info", "warn", "error" (case-insensitive, defaults to
// info on an unrecognized value). JSON output is used unconditionally:
// this daemon's logs are meant for a log collector, not a terminal.
func New(level string, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AuditLog is a dedicated trail of admin-initiated, state-changing
// actions: who (role) did what (action) to which target, and whether it
// succeeded. Kept separate from request logging so operators can grep
// one stream for "what changed on this box".
type AuditLog struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditLog builds an AuditLog. If enabled is false, RecordEvent is a
// no-op. If path is empty, audit events go to stdout alongside regular
// logs; otherwise they're appended to the given file.
func NewAuditLog(enabled bool, path string) (*AuditLog, error) {
	if !enabled {
		return &AuditLog{enabled: false}, nil
	}

	var handler slog.Handler
	if path == "" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		handler = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	return &AuditLog{logger: slog.New(handler), enabled: true}, nil
}

// AuditEvent is one recorded admin action.
type AuditEvent struct {
	Timestamp time.Time
	Action    string // e.g. "server.install", "mod.remove", "config.update"
	Target    string // e.g. a mod slug, a config key, "" for server-wide actions
	Role      string
	Success   bool
	Detail    string
}

// RecordEvent appends event to the audit trail. A no-op AuditLog
// silently drops events rather than requiring every caller to guard on
// enablement.
func (a *AuditLog) RecordEvent(event AuditEvent) {
	if a == nil || !a.enabled {
		return
	}
	a.logger.Info("admin_audit",
		slog.Time("timestamp", event.Timestamp),
		slog.String("action", event.Action),
		slog.String("target", event.Target),
		slog.String("role", event.Role),
		slog.Bool("success", event.Success),
		slog.String("detail", event.Detail),
	)
}

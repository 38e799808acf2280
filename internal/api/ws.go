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
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"vsmanager/internal/apierr"
	"vsmanager/internal/auth"
)

const (
	closeNoOrInvalidKey = 4001
	closeWrongRole      = 4003
	closePathOrTailErr  = 4005
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin enforcement happens via the authenticated role check below,
	// not by same-origin policy: the control plane may be fronted by a
	// separate web UI origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsAuthenticate resolves the caller's role from either ?api_key= or
// ?token=, matching the query-parameter auth the plain WebSocket upgrade
// handshake cannot carry in a header.
func (h *Handler) wsAuthenticate(r *http.Request) (auth.Role, bool) {
	if key := r.URL.Query().Get("api_key"); key != "" {
		role, err := h.verifier.Verify(key)
		return role, err == nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return h.wsTokens.Validate(token)
	}
	return "", false
}

func closeWithCode(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

// handleConsoleWS streams the console ring live: history first, then
// every newly appended line, while accepting JSON command messages from
// the client.
func (h *Handler) handleConsoleWS(w http.ResponseWriter, r *http.Request) {
	role, ok := h.wsAuthenticate(r)
	if !ok {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		closeWithCode(conn, closeNoOrInvalidKey, "missing or invalid key")
		return
	}
	if role != auth.RoleAdmin {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		closeWithCode(conn, closeWrongRole, "admin role required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("console_ws_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	historyLines := h.defaultHistoryLines
	if raw := r.URL.Query().Get("history_lines"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			historyLines = n
		}
	}

	lines := make(chan string, 256)
	subID := h.console.Subscribe(func(line string) {
		select {
		case lines <- line:
		default:
			// Slow reader: drop the line rather than block the ring.
		}
	})
	defer h.console.Unsubscribe(subID)

	for _, line := range h.console.History(historyLines) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.handleConsoleWSInbound(conn, data)
		}
	}()

	for {
		select {
		case line := <-lines:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) handleConsoleWSInbound(conn *websocket.Conn, data []byte) {
	var msg consoleMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "command" {
		return
	}
	if err := validateCommandContent(msg.Content); err != nil {
		if body, encErr := encodeConsoleError("command must be 1..1000 characters"); encErr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, body)
		}
		return
	}
	h.sup.SendCommand(msg.Content)
}

// --- Log file streaming (thin, best-effort; not a core-spec module) --------

func (h *Handler) handleConsoleLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.logsDir)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.CodeInternal, "failed to list log directory", err))
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".log") || strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	writeOK(w, http.StatusOK, map[string][]string{"files": names})
}

// handleConsoleLogsWS tails one log file by name, polling for growth
// since game-server log files are plain append-only writes with no
// inotify wiring in scope here.
func (h *Handler) handleConsoleLogsWS(w http.ResponseWriter, r *http.Request) {
	role, ok := h.wsAuthenticate(r)
	if !ok || role != auth.RoleAdmin {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		code := closeNoOrInvalidKey
		if ok {
			code = closeWrongRole
		}
		closeWithCode(conn, code, "unauthorized")
		return
	}

	name := r.URL.Query().Get("file")
	path := filepath.Join(h.logsDir, filepath.Base(name))
	f, err := os.Open(path)
	if err != nil {
		conn, upErr := upgrader.Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		closeWithCode(conn, closePathOrTailErr, "cannot open log file")
		return
	}
	defer f.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	buf := make([]byte, 64*1024)
	for range ticker.C {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := conn.WriteMessage(websocket.TextMessage, buf[:n]); err != nil {
				return
			}
		}
		if readErr != nil && readErr != io.EOF {
			closeWithCode(conn, closePathOrTailErr, "log read failed")
			return
		}
	}
}

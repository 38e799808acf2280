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
	"net/http"
	"strconv"

	"vsmanager/internal/apierr"
)

func (h *Handler) handleConsoleHistory(w http.ResponseWriter, r *http.Request) {
	limit := h.defaultHistoryLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, apierr.New(apierr.CodeInternal, "invalid lines parameter"))
			return
		}
		limit = n
	}
	writeOK(w, http.StatusOK, map[string]any{"lines": h.console.History(limit)})
}

type consoleCommandRequest struct {
	Command string `json:"command"`
}

func (h *Handler) handleConsoleCommand(w http.ResponseWriter, r *http.Request) {
	var req consoleCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := validateCommandContent(req.Command); err != nil {
		writeErr(w, err)
		return
	}
	if !h.sup.SendCommand(req.Command) {
		writeErr(w, apierr.New(apierr.CodeServerNotRunning, "server is not accepting commands"))
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"status": "sent"})
}

func validateCommandContent(content string) error {
	if len(content) < 1 || len(content) > 1000 {
		return apierr.New(apierr.CodeInternal, "command must be 1..1000 characters")
	}
	return nil
}

// consoleMessage is the JSON shape a WebSocket client may send to
// /console/ws. Unknown message types are ignored.
type consoleMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func encodeConsoleError(content string) ([]byte, error) {
	return json.Marshal(consoleMessage{Type: "error", Content: content})
}

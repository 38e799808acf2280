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
	"os"
	"strings"

	"vsmanager/internal/apierr"
)

// --- Game config (C9 game side) ---------------------------------------------

func (h *Handler) handleConfigGame(w http.ResponseWriter, _ *http.Request) {
	settings, err := h.gameConfig.GetSettings()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, settings)
}

type updateSettingRequest struct {
	Value string `json:"value"`
}

func (h *Handler) handleConfigGameSetting(w http.ResponseWriter, r *http.Request, key string) {
	var req updateSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	result, err := h.gameConfig.UpdateSetting(r.Context(), key, req.Value)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

// --- API config (C9 api side) -----------------------------------------------

func (h *Handler) handleConfigAPI(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, h.apiConfig.Get())
}

func (h *Handler) handleConfigAPISetting(w http.ResponseWriter, r *http.Request, key string) {
	var req updateSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	settings, err := h.apiConfig.UpdateSetting(key, req.Value)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, settings)
}

// --- Raw config file listing/read (read-only) -------------------------------

func (h *Handler) handleConfigFiles(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(h.configFiles))
	for _, f := range h.configFiles {
		names = append(names, f.Name)
	}
	writeOK(w, http.StatusOK, map[string][]string{"files": names})
}

func (h *Handler) handleConfigFile(w http.ResponseWriter, _ *http.Request, name string) {
	for _, f := range h.configFiles {
		if f.Name != name {
			continue
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			if os.IsNotExist(err) {
				writeErr(w, apierr.New(apierr.CodeConfigNotFound, "config file does not exist on disk"))
				return
			}
			writeErr(w, apierr.Wrap(apierr.CodeInternal, "failed to read config file", err))
			return
		}
		writeOK(w, http.StatusOK, map[string]string{"name": name, "content": string(data)})
		return
	}
	writeErr(w, apierr.New(apierr.CodeConfigNotFound, "unknown config file: "+strings.TrimSpace(name)))
}

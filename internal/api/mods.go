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

	"vsmanager/internal/obs"
)

func (h *Handler) handleMods(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, h.mods.List())
}

func (h *Handler) handleModDetail(w http.ResponseWriter, _ *http.Request, slug string) {
	mod, err := h.mods.Get(slug)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, mod)
}

type modLookupRequest struct {
	SlugOrURL string `json:"slug_or_url"`
}

func (h *Handler) handleModLookup(w http.ResponseWriter, r *http.Request) {
	var req modLookupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	detail, err := h.mods.Lookup(r.Context(), req.SlugOrURL)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, detail)
}

type modInstallRequest struct {
	SlugOrURL string `json:"slug_or_url"`
	Version   string `json:"version,omitempty"`
}

func (h *Handler) handleModInstall(w http.ResponseWriter, r *http.Request) {
	var req modInstallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	result, err := h.mods.Install(r.Context(), req.SlugOrURL, req.Version)
	obs.ObserveModOperation(obs.ModOpInstall, err)
	h.recordAudit(r, "mod.install", req.SlugOrURL, err)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"slug":            result.Mod.Slug,
		"version":         result.Mod.Version,
		"filename":        result.Mod.Filename,
		"compatibility":   result.Compatibility,
		"message":         result.Message,
		"pending_restart": h.restartState.Pending(),
	})
}

func (h *Handler) handleModEnable(w http.ResponseWriter, r *http.Request, slug string) {
	err := h.mods.Enable(slug)
	obs.ObserveModOperation(obs.ModOpEnable, err)
	h.recordAudit(r, "mod.enable", slug, err)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"slug": slug, "status": "enabled"})
}

func (h *Handler) handleModDisable(w http.ResponseWriter, r *http.Request, slug string) {
	err := h.mods.Disable(slug)
	obs.ObserveModOperation(obs.ModOpDisable, err)
	h.recordAudit(r, "mod.disable", slug, err)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"slug": slug, "status": "disabled"})
}

func (h *Handler) handleModRemove(w http.ResponseWriter, r *http.Request, slug string) {
	err := h.mods.Remove(slug)
	obs.ObserveModOperation(obs.ModOpRemove, err)
	h.recordAudit(r, "mod.remove", slug, err)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"slug": slug, "status": "removed"})
}

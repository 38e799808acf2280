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
	"strconv"
	"time"

	"vsmanager/internal/apierr"
)

func (h *Handler) handleMetricsCurrent(w http.ResponseWriter, _ *http.Request) {
	snap, ok := h.metrics.Latest()
	if !ok {
		writeErr(w, apierr.New(apierr.CodeInternal, "no metrics sample has been collected yet"))
		return
	}
	writeOK(w, http.StatusOK, snap)
}

func (h *Handler) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	all := h.metrics.All()

	minutesRaw := r.URL.Query().Get("minutes")
	if minutesRaw == "" {
		writeOK(w, http.StatusOK, map[string]any{"snapshots": all})
		return
	}
	minutes, err := strconv.Atoi(minutesRaw)
	if err != nil || minutes < 0 {
		writeErr(w, apierr.New(apierr.CodeInternal, "invalid minutes parameter"))
		return
	}

	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	filtered := make([]any, 0, len(all))
	for _, s := range all {
		if !s.Timestamp.Before(cutoff) {
			filtered = append(filtered, s)
		}
	}
	writeOK(w, http.StatusOK, map[string]any{"snapshots": filtered})
}

func (h *Handler) handleJobs(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, h.sched.Jobs())
}

func (h *Handler) handleJobDetail(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		info, ok := h.sched.Job(id)
		if !ok {
			writeErr(w, apierr.New(apierr.CodeJobNotFound, "no such job: "+id))
			return
		}
		writeOK(w, http.StatusOK, info)
	case http.MethodDelete:
		if _, ok := h.sched.Job(id); !ok {
			writeErr(w, apierr.New(apierr.CodeJobNotFound, "no such job: "+id))
			return
		}
		h.sched.RemoveJob(id)
		writeOK(w, http.StatusOK, map[string]string{"id": id, "status": "removed"})
	default:
		writeErr(w, apierr.New(apierr.CodeInternal, "method not allowed"))
	}
}

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

// Package restart tracks whether the supervised child needs a restart to
// pick up changes already applied to its configuration or mod set.
//
// A single instance is constructed once at startup and shared by value of
// pointer across the mod manager and config engine (which set the flag)
// and the supervisor (which clears it) — see the design notes on
// unifying what the original implementation tracked as two singletons.
package restart

import (
	"log/slog"
	"sync"
)

// State accumulates reasons that require a supervisor restart.
type State struct {
	mu      sync.Mutex
	pending bool
	reasons []string
	log     *slog.Logger
}

// New constructs an empty restart state.
func New(log *slog.Logger) *State {
	if log == nil {
		log = slog.Default()
	}
	return &State{log: log}
}

// RequireRestart appends reason (duplicates allowed) and sets the pending
// flag.
func (s *State) RequireRestart(reason string) {
	s.mu.Lock()
	s.reasons = append(s.reasons, reason)
	s.pending = true
	s.mu.Unlock()
	s.log.Info("restart_required", "reason", reason)
}

// ClearRestart empties the pending flag and reason list.
func (s *State) ClearRestart() {
	s.mu.Lock()
	s.pending = false
	s.reasons = nil
	s.mu.Unlock()
	s.log.Info("restart_cleared")
}

// Pending reports whether a restart is currently required.
func (s *State) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Reasons returns a copy of the accumulated reasons; callers cannot mutate
// the internal list through the returned slice.
func (s *State) Reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.reasons))
	copy(out, s.reasons)
	return out
}

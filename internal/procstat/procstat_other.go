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

//go:build !linux

package procstat

import "errors"

// ErrNoSuchProcess mirrors the Linux build's sentinel for API parity.
var ErrNoSuchProcess = errors.New("process no longer exists")

// ErrAccessDenied mirrors the Linux build's sentinel for API parity.
var ErrAccessDenied = errors.New("access denied reading process stats")

// Sampler is a no-op stand-in on non-Linux platforms: this control plane
// targets Linux deployments, and development builds elsewhere should not
// fail to compile just because /proc is unavailable.
type Sampler struct {
	pid int
}

// NewSampler constructs a no-op Sampler.
func NewSampler(pid int) *Sampler { return &Sampler{pid: pid} }

// PID returns the process id this sampler was constructed with.
func (s *Sampler) PID() int { return s.pid }

// Sample always reports zero usage outside Linux.
func (s *Sampler) Sample() (rssBytes int64, cpuPercent float64, err error) {
	return 0, 0, nil
}

// Alive always reports false outside Linux.
func Alive(pid int) bool { return false }

// DiskFreeBytes is unsupported outside Linux.
func DiskFreeBytes(path string) (int64, error) {
	return 0, errors.New("disk free not supported on this platform")
}

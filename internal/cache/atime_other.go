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

package cache

import (
	"io/fs"
	"time"
)

// accessTime falls back to ModTime on non-Linux platforms, where the LRU
// ordering degrades to last-write order. The control plane targets Linux
// deployments; this keeps cross-platform builds working for development.
func accessTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}

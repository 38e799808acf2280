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

//go:build windows

package supervisor

import "os/exec"

// signalGraceful has no portable equivalent of SIGTERM on Windows; this
// control plane targets Linux deployments, so a dev build here goes
// straight to a hard kill rather than leaving stop_server to hang.
func signalGraceful(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

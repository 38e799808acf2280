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

//go:build linux

// Package procstat samples RSS and CPU usage for a process directly from
// /proc, without shelling out or linking a C library.
package procstat

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNoSuchProcess mirrors the upstream collector's NoSuchProcess signal:
// the pid vanished between discovery and sampling.
var ErrNoSuchProcess = fmt.Errorf("process no longer exists")

// ErrAccessDenied mirrors the upstream collector's AccessDenied signal:
// /proc/<pid> exists but its contents are unreadable by this user.
var ErrAccessDenied = fmt.Errorf("access denied reading process stats")

var clockTicksPerSec = 100.0 // getconf CLK_TCK default on Linux

// Sample is one point-in-time resource reading for a process.
type Sample struct {
	RSSBytes   int64
	utimeTicks uint64
	stimeTicks uint64
	takenAt    time.Time
}

// Sampler tracks successive samples for a single pid so it can compute a
// CPU percentage from the delta between calls, the same non-blocking
// technique as a one-shot cpu_percent(interval=None) poll.
type Sampler struct {
	pid  int
	prev *Sample
}

// NewSampler constructs a Sampler for pid. The first call to Sample
// always returns 0% CPU, establishing the baseline.
func NewSampler(pid int) *Sampler {
	return &Sampler{pid: pid}
}

// PID returns the process id this sampler tracks.
func (s *Sampler) PID() int { return s.pid }

// Sample reads /proc/<pid>/stat for RSS and CPU ticks and returns the
// memory usage and CPU percent since the previous call.
func (s *Sampler) Sample() (rssBytes int64, cpuPercent float64, err error) {
	cur, err := readProcStat(s.pid)
	if err != nil {
		return 0, 0, err
	}

	if s.prev != nil {
		elapsed := cur.takenAt.Sub(s.prev.takenAt).Seconds()
		if elapsed > 0 {
			deltaTicks := float64((cur.utimeTicks + cur.stimeTicks) - (s.prev.utimeTicks + s.prev.stimeTicks))
			cpuPercent = (deltaTicks / clockTicksPerSec) / elapsed * 100
		}
	}
	s.prev = &cur
	return cur.RSSBytes, cpuPercent, nil
}

func readProcStat(pid int) (Sample, error) {
	path := fmt.Sprintf("/proc/%d/stat", pid)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Sample{}, ErrNoSuchProcess
		}
		if os.IsPermission(err) {
			return Sample{}, ErrAccessDenied
		}
		return Sample{}, err
	}

	// Fields after the command name (which may itself contain spaces and
	// is parenthesized) are positional; utime/stime are fields 14/15,
	// 1-indexed from the start of the line.
	closeParen := strings.LastIndexByte(string(data), ')')
	if closeParen < 0 || closeParen+2 >= len(data) {
		return Sample{}, fmt.Errorf("unexpected /proc/%d/stat format", pid)
	}
	fields := strings.Fields(string(data[closeParen+2:]))
	const utimeIdx = 11 // field 14 overall, 0-indexed from field 3
	const stimeIdx = 12
	if len(fields) <= stimeIdx {
		return Sample{}, fmt.Errorf("unexpected /proc/%d/stat field count", pid)
	}
	utime, err := strconv.ParseUint(fields[utimeIdx], 10, 64)
	if err != nil {
		return Sample{}, err
	}
	stime, err := strconv.ParseUint(fields[stimeIdx], 10, 64)
	if err != nil {
		return Sample{}, err
	}

	rss, err := readRSS(pid)
	if err != nil {
		return Sample{}, err
	}

	return Sample{RSSBytes: rss, utimeTicks: utime, stimeTicks: stime, takenAt: time.Now()}, nil
}

func readRSS(pid int) (int64, error) {
	path := fmt.Sprintf("/proc/%d/status", pid)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoSuchProcess
		}
		if os.IsPermission(err) {
			return 0, ErrAccessDenied
		}
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("unexpected VmRSS format in %s", path)
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("VmRSS not found in %s", path)
}

// Alive reports whether pid currently has a /proc entry.
func Alive(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

// DiskFreeBytes returns the space available to an unprivileged writer on
// the filesystem containing path, the same figure `df` reports as
// "Avail" rather than the root-reserved "Free" count.
func DiskFreeBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

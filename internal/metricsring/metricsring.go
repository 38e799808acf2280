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

// Package metricsring is a bounded FIFO history of resource-usage
// snapshots for both the control plane itself and the supervised game
// server process.
package metricsring

import (
	"log/slog"
	"sync"
	"time"

	"vsmanager/internal/procstat"
)

// DefaultCapacity holds one hour of history at the scheduler's default
// 10-second sampling interval.
const DefaultCapacity = 360

// Snapshot is one point-in-time resource reading.
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	APIMemoryMB    float64   `json:"api_memory_mb"`
	APICPUPercent  float64   `json:"api_cpu_percent"`
	GameMemoryMB   *float64  `json:"game_memory_mb"`
	GameCPUPercent *float64  `json:"game_cpu_percent"`
}

// Ring is a fixed-capacity FIFO buffer of snapshots; the oldest is
// dropped once the ring is full.
type Ring struct {
	mu       sync.Mutex
	capacity int
	buf      []Snapshot
}

// New constructs a Ring. A non-positive capacity falls back to
// DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{capacity: capacity, buf: make([]Snapshot, 0, capacity)}
}

// Capacity returns the ring's maximum size.
func (r *Ring) Capacity() int { return r.capacity }

// Append adds a snapshot, evicting the oldest if at capacity.
func (r *Ring) Append(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) >= r.capacity {
		r.buf = r.buf[1:]
	}
	r.buf = append(r.buf, s)
}

// All returns every buffered snapshot, oldest first.
func (r *Ring) All() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, len(r.buf))
	copy(out, r.buf)
	return out
}

// Latest returns the most recent snapshot, or false if the ring is empty.
func (r *Ring) Latest() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return Snapshot{}, false
	}
	return r.buf[len(r.buf)-1], true
}

// Clear empties the ring.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
}

// Len reports the number of buffered snapshots.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// GamePIDFunc resolves the game server's current pid, returning ok=false
// when the server isn't running.
type GamePIDFunc func() (pid int, ok bool)

// Collector samples both the control plane's own process and the
// supervised game server process into a Ring.
type Collector struct {
	ring        *Ring
	apiSampler  *procstat.Sampler
	gameSampler *procstat.Sampler
	gamePID     GamePIDFunc
	log         *slog.Logger
}

// NewCollector constructs a Collector writing into ring. gamePID is
// consulted on every Collect call since the game server's pid changes
// across restarts.
func NewCollector(ring *Ring, selfPID int, gamePID GamePIDFunc, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		ring:       ring,
		apiSampler: procstat.NewSampler(selfPID),
		gamePID:    gamePID,
		log:        log,
	}
}

// Collect samples both processes and appends the result to the ring.
func (c *Collector) Collect() Snapshot {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	if rss, cpu, err := c.apiSampler.Sample(); err != nil {
		c.log.Warn("api_metrics_sample_failed", "error", err)
	} else {
		snap.APIMemoryMB = float64(rss) / (1024 * 1024)
		snap.APICPUPercent = cpu
	}

	if mem, cpu, ok := c.sampleGame(); ok {
		snap.GameMemoryMB = &mem
		snap.GameCPUPercent = &cpu
	}

	c.ring.Append(snap)
	return snap
}

func (c *Collector) sampleGame() (memMB, cpu float64, ok bool) {
	pid, running := c.gamePID()
	if !running {
		c.gameSampler = nil
		return 0, 0, false
	}

	if c.gameSampler == nil || c.gameSampler.PID() != pid {
		c.gameSampler = procstat.NewSampler(pid)
	}

	rss, cpuPercent, err := c.gameSampler.Sample()
	if err != nil {
		switch err {
		case procstat.ErrNoSuchProcess:
			c.log.Debug("game_process_no_longer_exists", "pid", pid)
		case procstat.ErrAccessDenied:
			c.log.Warn("game_process_access_denied", "pid", pid)
		default:
			c.log.Warn("game_metrics_sample_failed", "pid", pid, "error", err)
		}
		return 0, 0, false
	}

	return float64(rss) / (1024 * 1024), cpuPercent, true
}

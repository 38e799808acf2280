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

// Package scheduler runs periodic background jobs with the same
// job-default robustness posture as a production task scheduler:
// coalesced misfires, no overlapping runs per job, and a grace window for
// late execution after the process was blocked or suspended.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vsmanager/internal/obs"
)

const (
	// DefaultMisfireGrace bounds how late a missed tick may still fire;
	// beyond this the tick is skipped entirely rather than run stale.
	DefaultMisfireGrace = 60 * time.Second
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// JobFunc is the work a scheduled job performs. The context is cancelled
// when the scheduler shuts down.
type JobFunc func(ctx context.Context) error

type trigger interface {
	next(from time.Time) time.Time
}

type intervalTrigger struct{ d time.Duration }

func (t intervalTrigger) next(from time.Time) time.Time { return from.Add(t.d) }

type cronTrigger struct{ schedule cron.Schedule }

func (t cronTrigger) next(from time.Time) time.Time { return t.schedule.Next(from) }

type job struct {
	id       string
	fn       JobFunc
	trig     trigger
	mu       sync.Mutex // enforces max_instances=1
	stopOnce sync.Once
	stop     chan struct{}

	metaMu    sync.Mutex // guards the introspection fields below only
	lastRunAt time.Time
	lastErr   error
	nextRunAt time.Time
}

// Scheduler owns a set of named periodic jobs, each run on its own timer
// goroutine.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	wg      sync.WaitGroup // tracks live timer goroutines, for Shutdown(wait=true)
	log     *slog.Logger
}

// New constructs a Scheduler.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{jobs: make(map[string]*job), log: log}
}

// IsRunning reports whether Start has been called without a matching
// Shutdown.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start marks the scheduler as running. Jobs added afterward begin
// running immediately; jobs added before Start begin running now.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	for id, j := range s.jobs {
		s.runJobLoop(id, j)
	}
	s.log.Info("scheduler_started")
}

// AddIntervalJob schedules fn to run every interval, replacing any
// existing job with the same id.
func (s *Scheduler) AddIntervalJob(id string, interval time.Duration, fn JobFunc) {
	s.addJob(id, intervalTrigger{d: interval}, fn)
	s.log.Info("job_added", "job_id", id, "trigger_type", "interval", "seconds", interval.Seconds())
}

// AddCronJob schedules fn on a standard five-field cron expression,
// replacing any existing job with the same id.
func (s *Scheduler) AddCronJob(id string, cronExpr string, fn JobFunc) error {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	s.addJob(id, cronTrigger{schedule: schedule}, fn)
	s.log.Info("job_added", "job_id", id, "trigger_type", "cron", "cron_expr", cronExpr)
	return nil
}

func (s *Scheduler) addJob(id string, trig trigger, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[id]; ok {
		existing.stopOnce.Do(func() { close(existing.stop) })
	}

	j := &job{id: id, fn: fn, trig: trig, stop: make(chan struct{})}
	s.jobs[id] = j
	if s.running {
		s.runJobLoop(id, j)
	}
}

// runJobLoop starts the timer goroutine for j. Must be called with s.mu held.
func (s *Scheduler) runJobLoop(id string, j *job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		next := j.trig.next(time.Now())
		for {
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-j.stop:
				timer.Stop()
				return
			case tick := <-timer.C:
				s.fireIfDue(id, j, tick, next)
				next = j.trig.next(tick)
				j.metaMu.Lock()
				j.nextRunAt = next
				j.metaMu.Unlock()
			}
		}
	}()
}

// fireIfDue runs the job unless the misfire grace window has elapsed, and
// coalesces by dropping the attempt entirely if a previous run of the
// same job is still in flight (max_instances=1).
func (s *Scheduler) fireIfDue(id string, j *job, firedAt, scheduledFor time.Time) {
	if firedAt.Sub(scheduledFor) > DefaultMisfireGrace {
		s.log.Warn("job_misfire_skipped", "job_id", id, "scheduled_for", scheduledFor, "fired_at", firedAt)
		return
	}

	if !j.mu.TryLock() {
		s.log.Debug("job_coalesced", "job_id", id)
		return
	}
	defer j.mu.Unlock()

	runStart := time.Now()
	err := j.fn(context.Background())
	obs.ObserveJobRun(id, time.Since(runStart), err)
	if err != nil {
		s.log.Error("job_failed", "job_id", id, "error", err)
	}

	j.metaMu.Lock()
	j.lastRunAt = firedAt
	j.lastErr = err
	j.metaMu.Unlock()
}

// RemoveJob stops and forgets a job.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.stopOnce.Do(func() { close(j.stop) })
	delete(s.jobs, id)
	s.log.Info("job_removed", "job_id", id)
}

// JobIDs returns the ids of every currently scheduled job.
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// JobInfo is the introspection view of one scheduled job's run history.
type JobInfo struct {
	ID        string    `json:"id"`
	NextRunAt time.Time `json:"next_run_at,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

func infoFor(id string, j *job) JobInfo {
	j.metaMu.Lock()
	defer j.metaMu.Unlock()
	info := JobInfo{ID: id, NextRunAt: j.nextRunAt, LastRunAt: j.lastRunAt}
	if j.lastErr != nil {
		info.LastError = j.lastErr.Error()
	}
	return info
}

// Jobs returns introspection info for every currently scheduled job.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for id, j := range s.jobs {
		infos = append(infos, infoFor(id, j))
	}
	return infos
}

// Job returns introspection info for a single job, if it exists.
func (s *Scheduler) Job(id string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return infoFor(id, j), true
}

// Shutdown stops every job's timer goroutine. When wait is true, it blocks
// until any job currently executing finishes before returning.
func (s *Scheduler) Shutdown(wait bool) {
	s.mu.Lock()
	for _, j := range s.jobs {
		j.stopOnce.Do(func() { close(j.stop) })
	}
	s.running = false
	s.mu.Unlock()

	if wait {
		s.wg.Wait()
	}
	s.log.Info("scheduler_stopped")
}

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

// Package obs exposes the control plane's own Prometheus metrics: HTTP
// surface traffic, mod-manager operations, scheduler job runs, and the
// game server's running state. It never touches game telemetry, which
// lives in metricsring instead.
package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	httpRequests         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	modOperations        *prometheus.CounterVec
	jobRuns              *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	serverRunning        prometheus.Gauge
	consoleLinesObserved prometheus.Counter
)

const (
	ModOpInstall = "install"
	ModOpEnable  = "enable"
	ModOpDisable = "disable"
	ModOpRemove  = "remove"

	StatusOK    = "ok"
	StatusError = "error"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Primarily for tests
// that need clean state between cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler exposes the registry in Prometheus text format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one completed HTTP request against the
// control-plane API surface.
func ObserveHTTPRequest(method, path string, code int, duration time.Duration) {
	m := sanitizeLabel(method, "unknown")
	p := sanitizeLabel(path, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if httpRequests != nil {
		httpRequests.WithLabelValues(m, p, strconv.Itoa(code)).Inc()
	}
	if httpRequestDuration != nil {
		httpRequestDuration.WithLabelValues(m, p).Observe(duration.Seconds())
	}
}

// ObserveModOperation records the outcome of a mod-manager operation.
func ObserveModOperation(op string, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	mu.RLock()
	defer mu.RUnlock()
	if modOperations != nil {
		modOperations.WithLabelValues(sanitizeLabel(op, "unknown"), status).Inc()
	}
}

// ObserveJobRun records a scheduler job firing, its duration, and
// whether it returned an error.
func ObserveJobRun(jobID string, duration time.Duration, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	id := sanitizeLabel(jobID, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if jobRuns != nil {
		jobRuns.WithLabelValues(id, status).Inc()
	}
	if jobDuration != nil {
		jobDuration.WithLabelValues(id).Observe(duration.Seconds())
	}
}

// SetServerRunning reports whether the game server process is currently
// running, for dashboards that want an at-a-glance uptime signal.
func SetServerRunning(running bool) {
	mu.RLock()
	defer mu.RUnlock()
	if serverRunning == nil {
		return
	}
	if running {
		serverRunning.Set(1)
	} else {
		serverRunning.Set(0)
	}
}

// IncConsoleLines counts lines appended to the console ring, cheap
// enough to call on every append without its own sampling logic.
func IncConsoleLines(n int) {
	mu.RLock()
	defer mu.RUnlock()
	if consoleLinesObserved != nil {
		consoleLinesObserved.Add(float64(n))
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vsmanager",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests to the control-plane API, grouped by method, path, and status code.",
	}, []string{"method", "path", "code"})

	reqDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vsmanager",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests to the control-plane API.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})

	modOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vsmanager",
		Subsystem: "mods",
		Name:      "operations_total",
		Help:      "Total mod-manager operations by kind and outcome.",
	}, []string{"op", "status"})

	jobTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vsmanager",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Total scheduler job firings by job id and outcome.",
	}, []string{"job_id", "status"})

	jobHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vsmanager",
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Duration of scheduler job executions by job id.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"job_id"})

	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vsmanager",
		Subsystem: "server",
		Name:      "running",
		Help:      "1 if the game server process is currently running, else 0.",
	})

	consoleLines := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vsmanager",
		Subsystem: "console",
		Name:      "lines_total",
		Help:      "Total lines appended to the console ring.",
	})

	registry.MustRegister(reqTotal, reqDuration, modOps, jobTotal, jobHist, running, consoleLines)

	reg = registry
	httpRequests = reqTotal
	httpRequestDuration = reqDuration
	modOperations = modOps
	jobRuns = jobTotal
	jobDuration = jobHist
	serverRunning = running
	consoleLinesObserved = consoleLines
}

func sanitizeLabel(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.' || r == '/' || r == '{' || r == '}':
		default:
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

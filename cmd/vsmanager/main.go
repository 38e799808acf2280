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

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"vsmanager/internal/api"
	"vsmanager/internal/apisettings"
	"vsmanager/internal/applog"
	"vsmanager/internal/auth"
	"vsmanager/internal/cache"
	"vsmanager/internal/configinit"
	"vsmanager/internal/consolering"
	"vsmanager/internal/gameconfig"
	"vsmanager/internal/metricsring"
	"vsmanager/internal/modcatalogue"
	"vsmanager/internal/modindex"
	"vsmanager/internal/modmanager"
	"vsmanager/internal/procstat"
	"vsmanager/internal/restart"
	"vsmanager/internal/scheduler"
	"vsmanager/internal/supervisor"
	"vsmanager/internal/versioncache"
	"vsmanager/internal/wstoken"
)

// config is every setting this daemon needs, seeded from VS_* environment
// variables with a flag override layer so either source works.
type config struct {
	Port                 string
	DataDir              string
	Debug                bool
	LogLevel             string
	AdminKey             string
	MonitorKey           string
	GameVersion          string
	CORSOrigins          []string
	ConsoleHistoryLines  int
	DiskWarningThreshold float64
	ModCacheMaxSizeMB    int
	AuditEnabled         bool
	AuditLogPath         string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func defaultConfig() config {
	return config{
		Port:                 "8080",
		DataDir:              "/data",
		Debug:                false,
		LogLevel:             "info",
		ConsoleHistoryLines:  200,
		DiskWarningThreshold: 5,
		ModCacheMaxSizeMB:    10240,
		AuditEnabled:         true,
	}
}

// parseConfig builds config from env vars, then lets flags override.
func parseConfig() config {
	def := defaultConfig()

	cfg := config{
		Port:                 getenv("VS_PORT", def.Port),
		DataDir:              getenv("VS_DATA_DIR", def.DataDir),
		Debug:                getenvBool("VS_DEBUG", def.Debug),
		LogLevel:             getenv("VS_LOG_LEVEL", def.LogLevel),
		AdminKey:             getenv("VS_API_KEY_ADMIN", ""),
		MonitorKey:           getenv("VS_API_KEY_MONITOR", ""),
		GameVersion:          getenv("VS_GAME_VERSION", ""),
		ConsoleHistoryLines:  getenvInt("VS_CONSOLE_HISTORY_LINES", def.ConsoleHistoryLines),
		DiskWarningThreshold: getenvFloat("VS_DISK_SPACE_WARNING_THRESHOLD_GB", def.DiskWarningThreshold),
		ModCacheMaxSizeMB:    getenvInt("VS_MOD_CACHE_MAX_SIZE_MB", def.ModCacheMaxSizeMB),
		AuditEnabled:         getenvBool("VS_AUDIT_LOG_ENABLED", def.AuditEnabled),
		AuditLogPath:         getenv("VS_AUDIT_LOG_PATH", ""),
	}
	if origins := getenv("VS_CORS_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "root directory for game install, state, and cache")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging with source location")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.IntVar(&cfg.ConsoleHistoryLines, "console-history-lines", cfg.ConsoleHistoryLines, "default console history replay length")
	flag.IntVar(&cfg.ModCacheMaxSizeMB, "mod-cache-max-size-mb", cfg.ModCacheMaxSizeMB, "download cache size cap in MB (0 disables eviction)")
	flag.Parse()

	return cfg
}

func (c config) serverDir() string     { return filepath.Join(c.DataDir, "server") }
func (c config) serverDataDir() string { return filepath.Join(c.DataDir, "serverdata") }
func (c config) stateDir() string      { return filepath.Join(c.DataDir, "vsmanager", "state") }
func (c config) cacheDir() string      { return filepath.Join(c.DataDir, "vsmanager", "cache") }
func (c config) logsDir() string       { return filepath.Join(c.serverDataDir(), "Logs") }
func (c config) serverConfigPath() string {
	return filepath.Join(c.serverDataDir(), "serverconfig.json")
}
func (c config) apiSettingsPath() string {
	return filepath.Join(c.stateDir(), "api-settings.json")
}

func main() {
	cfg := parseConfig()

	logger := applog.New(cfg.LogLevel, cfg.Debug)
	slog.SetDefault(logger)

	if cfg.AdminKey == "" {
		logger.Error("startup_failed", "reason", "VS_API_KEY_ADMIN is required")
		os.Exit(1)
	}
	if cfg.DiskWarningThreshold < 0 {
		logger.Error("startup_failed", "reason", "VS_DISK_SPACE_WARNING_THRESHOLD_GB must be >= 0")
		os.Exit(1)
	}
	if cfg.ModCacheMaxSizeMB < 0 {
		logger.Error("startup_failed", "reason", "VS_MOD_CACHE_MAX_SIZE_MB must be >= 0")
		os.Exit(1)
	}

	for _, dir := range []string{cfg.serverDir(), cfg.serverDataDir(), cfg.stateDir(), cfg.cacheDir(), cfg.logsDir(), filepath.Join(cfg.DataDir, "vsmanager", "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("startup_failed", "reason", "cannot create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	audit, err := applog.NewAuditLog(cfg.AuditEnabled, cfg.AuditLogPath)
	if err != nil {
		logger.Error("startup_failed", "reason", "cannot open audit log", "error", err)
		os.Exit(1)
	}

	init13 := configinit.New(cfg.serverConfigPath(), nil, logger.With("component", "configinit"))
	if init13.NeedsInitialization() {
		if err := init13.InitializeConfig(); err != nil {
			logger.Error("startup_failed", "reason", "config init failed", "error", err)
			os.Exit(1)
		}
	}

	console := consolering.New(1000)
	restartState := restart.New(logger.With("component", "restart"))

	modCache := cache.New(cfg.cacheDir(), cfg.ModCacheMaxSizeMB, logger.With("component", "cache"))
	if err := modCache.EnsureDirs(); err != nil {
		logger.Error("startup_failed", "reason", "cannot prepare cache directories", "error", err)
		os.Exit(1)
	}

	idx := modindex.New(cfg.stateDir(), filepath.Join(cfg.serverDataDir(), "Mods"), logger.With("component", "modindex"))
	idx.Load()

	catalogue := modcatalogue.New(logger.With("component", "modcatalogue"))

	versionFetcher := versioncache.NewHTTPFetcher()
	versions, err := versioncache.New(versionFetcher, logger.With("component", "versioncache"), 8)
	if err != nil {
		logger.Error("startup_failed", "reason", "cannot construct version cache", "error", err)
		os.Exit(1)
	}

	var sup *supervisor.Supervisor
	mods := modmanager.New(idx, catalogue, modCache, restartState, func() string {
		if sup == nil {
			return cfg.GameVersion
		}
		return sup.CurrentVersion()
	}, logger.With("component", "modmanager"))

	supCfg := supervisor.Config{
		ServerDir:     cfg.serverDir(),
		ServerDataDir: cfg.serverDataDir(),
		StateDir:      filepath.Join(cfg.DataDir, "vsmanager"),
		Executable:    filepath.Join(cfg.serverDir(), "VintagestoryServer"),
		Args:          []string{"--dataPath", cfg.serverDataDir()},
	}
	sup = supervisor.New(supCfg, console, restartState, mods, versions, logger.With("component", "supervisor"))

	gameConfigRunner := supervisor.NewGameConfigRunner(sup)

	verifier := auth.New(cfg.AdminKey, cfg.MonitorKey, logger.With("component", "auth"))
	wsTokens := wstoken.New()

	metricsRing := metricsring.New(metricsring.DefaultCapacity)
	metricsCollector := metricsring.NewCollector(metricsRing, os.Getpid(), sup.ProcessInfo, logger.With("component", "metricsring"))

	sched := scheduler.New(logger.With("component", "scheduler"))

	registerMetricsJob := func(seconds int) {
		sched.AddIntervalJob("metrics_collection", time.Duration(seconds)*time.Second, func(ctx context.Context) error {
			metricsCollector.Collect()
			return nil
		})
	}
	registerVersionsJob := func(seconds int) {
		sched.AddIntervalJob("server_versions_refresh", time.Duration(seconds)*time.Second, func(ctx context.Context) error {
			versions.Refresh(ctx, versioncache.ChannelStable, versioncache.ChannelUnstable)
			return nil
		})
	}
	registerModListJob := func(seconds int) {
		sched.AddIntervalJob("mod_list_refresh", time.Duration(seconds)*time.Second, func(ctx context.Context) error {
			return idx.SyncStateWithDisk()
		})
	}

	diskLog := logger.With("component", "diskspace")
	sched.AddIntervalJob("disk_space_check", 5*time.Minute, func(ctx context.Context) error {
		free, err := procstat.DiskFreeBytes(cfg.DataDir)
		if err != nil {
			diskLog.Warn("disk_space_check_failed", "error", err)
			return nil
		}
		freeGB := float64(free) / (1024 * 1024 * 1024)
		if freeGB < cfg.DiskWarningThreshold {
			diskLog.Warn("disk_space_low", "free_gb", freeGB, "threshold_gb", cfg.DiskWarningThreshold)
		}
		return nil
	})

	apiSettings := apisettings.New(cfg.apiSettingsPath(), func(key string, seconds int) {
		switch key {
		case "metrics_collection_interval":
			registerMetricsJob(seconds)
		case "server_versions_refresh_interval":
			registerVersionsJob(seconds)
		case "mod_list_refresh_interval":
			registerModListJob(seconds)
		}
	}, logger.With("component", "apisettings"))
	apiSettings.Load()

	settings := apiSettings.Get()
	gameCfg := gameconfig.New(cfg.serverConfigPath(), gameConfigRunner, restartState, settings.BlockEnvManagedSettings)
	registerMetricsJob(settings.MetricsCollectionInterval)
	registerVersionsJob(settings.ServerVersionsRefreshInterval)
	registerModListJob(settings.ModListRefreshInterval)
	sched.Start()

	versions.Refresh(context.Background(), versioncache.ChannelStable, versioncache.ChannelUnstable)

	if settings.AutoStartServer && sup.State() == supervisor.StateInstalled {
		if err := sup.StartServer(context.Background()); err != nil {
			logger.Error("auto_start_failed", "error", err)
		}
	}

	configFiles := []api.ConfigFile{
		{Name: "serverconfig.json", Path: cfg.serverConfigPath()},
	}

	var ready atomic.Bool
	handler := api.New(api.Dependencies{
		Log:                 logger.With("component", "api"),
		Verifier:            verifier,
		WSTokens:            wsTokens,
		Supervisor:          sup,
		Versions:            versions,
		GameConfig:          gameCfg,
		APIConfig:           apiSettings,
		Mods:                mods,
		Console:             console,
		RestartState:        restartState,
		Metrics:             metricsRing,
		Scheduler:           sched,
		ConfigFiles:         configFiles,
		LogsDir:             cfg.logsDir(),
		Audit:               audit,
		CORSOrigins:         cfg.CORSOrigins,
		DefaultHistoryLines: cfg.ConsoleHistoryLines,
		Ready:               ready.Load,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.NewRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting_server", "port", cfg.Port)
		ready.Store(true)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server_failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting_down")
	ready.Store(false)

	sched.Shutdown(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server_shutdown_forced", "error", err)
	}

	logger.Info("server_exited")
}

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

// Package apisettings persists the control plane's own behavioral
// settings (as opposed to the game server's serverconfig.json, handled
// by package gameconfig).
package apisettings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"vsmanager/internal/apierr"
)

// Settings is the small typed object persisted to api-settings.json.
type Settings struct {
	AutoStartServer          bool `json:"auto_start_server"`
	BlockEnvManagedSettings  bool `json:"block_env_managed_settings"`
	EnforceEnvOnRestart      bool `json:"enforce_env_on_restart"`
	ModListRefreshInterval   int  `json:"mod_list_refresh_interval"`
	ServerVersionsRefreshInterval int `json:"server_versions_refresh_interval"`
	MetricsCollectionInterval int `json:"metrics_collection_interval"`
}

// Defaults mirror a fresh installation with no api-settings.json yet.
func Defaults() Settings {
	return Settings{
		AutoStartServer:               false,
		BlockEnvManagedSettings:       true,
		EnforceEnvOnRestart:           false,
		ModListRefreshInterval:        3600,
		ServerVersionsRefreshInterval: 3600,
		MetricsCollectionInterval:     10,
	}
}

// RefreshCallback is invoked when a refresh-interval key changes, so the
// scheduler can reschedule the affected job without a restart.
type RefreshCallback func(key string, seconds int)

// Service loads, validates, and atomically persists api-settings.json.
type Service struct {
	mu       sync.Mutex
	path     string
	current  Settings
	onRefresh RefreshCallback
	log      *slog.Logger
}

// New constructs a Service. Load should be called once at startup.
func New(path string, onRefresh RefreshCallback, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{path: path, current: Defaults(), onRefresh: onRefresh, log: log}
}

// Load reads api-settings.json, degrading to defaults with a logged
// warning on any missing-file or malformed-JSON condition. Never errors.
func (s *Service) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("api_settings_load_failed", "path", s.path, "error", err)
		}
		s.current = Defaults()
		return
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("api_settings_load_failed", "path", s.path, "error", err)
		s.current = Defaults()
		return
	}
	s.current = loaded
}

// Get returns a copy of the current settings.
func (s *Service) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// UpdateSetting coerces rawValue to the field's type, validates bounds,
// persists atomically, and fires the refresh callback for interval keys.
func (s *Service) UpdateSetting(key, rawValue string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	var refreshSeconds int
	isRefreshKey := false

	switch key {
	case "auto_start_server":
		b, err := parseBool(rawValue)
		if err != nil {
			return Settings{}, apierr.Wrap(apierr.CodeSettingInvalid, "invalid boolean for auto_start_server", err)
		}
		next.AutoStartServer = b
	case "block_env_managed_settings":
		b, err := parseBool(rawValue)
		if err != nil {
			return Settings{}, apierr.Wrap(apierr.CodeSettingInvalid, "invalid boolean for block_env_managed_settings", err)
		}
		next.BlockEnvManagedSettings = b
	case "enforce_env_on_restart":
		b, err := parseBool(rawValue)
		if err != nil {
			return Settings{}, apierr.Wrap(apierr.CodeSettingInvalid, "invalid boolean for enforce_env_on_restart", err)
		}
		next.EnforceEnvOnRestart = b
	case "mod_list_refresh_interval":
		n, err := parseNonNegativeInt(rawValue)
		if err != nil {
			return Settings{}, apierr.Wrap(apierr.CodeSettingInvalid, "invalid interval for mod_list_refresh_interval", err)
		}
		next.ModListRefreshInterval = n
		refreshSeconds, isRefreshKey = n, true
	case "server_versions_refresh_interval":
		n, err := parseNonNegativeInt(rawValue)
		if err != nil {
			return Settings{}, apierr.Wrap(apierr.CodeSettingInvalid, "invalid interval for server_versions_refresh_interval", err)
		}
		next.ServerVersionsRefreshInterval = n
		refreshSeconds, isRefreshKey = n, true
	case "metrics_collection_interval":
		n, err := parseNonNegativeInt(rawValue)
		if err != nil {
			return Settings{}, apierr.Wrap(apierr.CodeSettingInvalid, "invalid interval for metrics_collection_interval", err)
		}
		next.MetricsCollectionInterval = n
		refreshSeconds, isRefreshKey = n, true
	default:
		return Settings{}, apierr.New(apierr.CodeSettingUnknown, fmt.Sprintf("unknown api setting: %q", key))
	}

	if err := s.saveLocked(next); err != nil {
		return Settings{}, apierr.Wrap(apierr.CodeSettingUpdateFail, "failed to persist api-settings.json", err)
	}
	s.current = next

	if isRefreshKey && s.onRefresh != nil {
		s.onRefresh(key, refreshSeconds)
	}
	return s.current, nil
}

func (s *Service) saveLocked(settings Settings) error {
	if err := os.MkdirAll(parentDir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("cannot convert %q to bool", raw)
	}
}

func parseNonNegativeInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("value must be >= 0, got %d", n)
	}
	return n, nil
}

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

// Package gameconfig reads and updates the managed subset of
// serverconfig.json, routing each change through a live console command
// when the server is running and the setting supports it, or through a
// direct file edit otherwise. A file edit marks a restart pending only
// when the setting requires a restart, or when it cannot be applied live
// and the server is running.
package gameconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vsmanager/internal/apierr"
	"vsmanager/internal/configinit"
	"vsmanager/internal/restart"
)

// BoolFormat controls how a boolean is rendered in a console command.
type BoolFormat string

const (
	BoolTrueFalse BoolFormat = "true_false"
	BoolZeroOne   BoolFormat = "0_1"
)

// Setting describes one managed serverconfig.json key and how updates to
// it are applied.
type Setting struct {
	Key            string
	Type           configinit.ValueType
	ConsoleCommand string // empty means file-update only
	RequiresRestart bool
	LiveUpdate     bool
	BoolFormat     BoolFormat
}

// ManagedSettings is the fixed catalogue of settings exposed over the API.
var ManagedSettings = map[string]Setting{
	"ServerName": {Key: "ServerName", Type: configinit.TypeString, ConsoleCommand: `/serverconfig name "%s"`, LiveUpdate: true},
	"ServerDescription": {Key: "ServerDescription", Type: configinit.TypeString, ConsoleCommand: `/serverconfig description "%s"`, LiveUpdate: true},
	"WelcomeMessage": {Key: "WelcomeMessage", Type: configinit.TypeString, ConsoleCommand: `/serverconfig motd "%s"`, LiveUpdate: true},
	"MaxClients": {Key: "MaxClients", Type: configinit.TypeInt, ConsoleCommand: "/serverconfig maxclients %s", LiveUpdate: true},
	"MaxChunkRadius": {Key: "MaxChunkRadius", Type: configinit.TypeInt, ConsoleCommand: "/serverconfig maxchunkradius %s", LiveUpdate: true},
	"Password": {Key: "Password", Type: configinit.TypeString, ConsoleCommand: `/serverconfig password "%s"`, LiveUpdate: true},
	"AllowPvP": {Key: "AllowPvP", Type: configinit.TypeBool, ConsoleCommand: "/serverconfig allowpvp %s", LiveUpdate: true, BoolFormat: BoolTrueFalse},
	"AllowFireSpread": {Key: "AllowFireSpread", Type: configinit.TypeBool, ConsoleCommand: "/serverconfig allowfirespread %s", LiveUpdate: true, BoolFormat: BoolTrueFalse},
	"AllowFallingBlocks": {Key: "AllowFallingBlocks", Type: configinit.TypeBool, ConsoleCommand: "/serverconfig allowfallingblocks %s", LiveUpdate: true, BoolFormat: BoolTrueFalse},
	"EntitySpawning": {Key: "EntitySpawning", Type: configinit.TypeBool, ConsoleCommand: "/serverconfig entityspawning %s", LiveUpdate: true, BoolFormat: BoolTrueFalse},
	"PassTimeWhenEmpty": {Key: "PassTimeWhenEmpty", Type: configinit.TypeBool, ConsoleCommand: "/serverconfig passtimewhenempty %s", LiveUpdate: true, BoolFormat: BoolTrueFalse},
	"Upnp": {Key: "Upnp", Type: configinit.TypeBool, ConsoleCommand: "/serverconfig upnp %s", LiveUpdate: true, BoolFormat: BoolZeroOne},
	"AdvertiseServer": {Key: "AdvertiseServer", Type: configinit.TypeBool, ConsoleCommand: "/serverconfig advertise %s", LiveUpdate: true, BoolFormat: BoolZeroOne},
	"Port": {Key: "Port", Type: configinit.TypeInt, RequiresRestart: true},
	"Ip":   {Key: "Ip", Type: configinit.TypeString, RequiresRestart: true},
}

// SettingInfo is the API-facing view of one managed setting's current
// value and update behavior.
type SettingInfo struct {
	Key             string `json:"key"`
	Value           any    `json:"value"`
	Type            string `json:"type"`
	LiveUpdate      bool   `json:"live_update"`
	RequiresRestart bool   `json:"requires_restart,omitempty"`
	EnvManaged      bool   `json:"env_managed"`
	EnvVar          string `json:"env_var,omitempty"`
}

// SettingsResponse is the full settings listing with file provenance.
type SettingsResponse struct {
	Settings     []SettingInfo `json:"settings"`
	SourceFile   string        `json:"source_file"`
	LastModified time.Time     `json:"last_modified"`
}

// UpdateMethod records how a setting change was applied.
type UpdateMethod string

const (
	MethodConsoleCommand UpdateMethod = "console_command"
	MethodFileUpdate     UpdateMethod = "file_update"
)

// UpdateResult is the outcome of an UpdateSetting call.
type UpdateResult struct {
	Key            string       `json:"key"`
	Value          any          `json:"value"`
	Method         UpdateMethod `json:"method"`
	PendingRestart bool         `json:"pending_restart"`
}

// ServerRunner is the subset of the server supervisor gameconfig needs:
// whether the server is up, and how to send it a console command.
type ServerRunner interface {
	IsRunning() bool
	SendCommand(ctx context.Context, command string) error
}

// Service reads and updates serverconfig.json.
type Service struct {
	configPath           string
	server               ServerRunner
	restart              *restart.State
	blockEnvManaged      bool
}

// New constructs a Service. server may be nil (IsRunning treated as
// false, forcing all updates through the file path).
func New(configPath string, server ServerRunner, r *restart.State, blockEnvManaged bool) *Service {
	return &Service{configPath: configPath, server: server, restart: r, blockEnvManaged: blockEnvManaged}
}

func (s *Service) isServerRunning() bool {
	return s.server != nil && s.server.IsRunning()
}

func (s *Service) loadConfig() (map[string]any, error) {
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.CodeConfigNotFound, "serverconfig.json does not exist")
		}
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to read serverconfig.json", err)
	}
	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "serverconfig.json is malformed", err)
	}
	return config, nil
}

func envVarFor(key string) (string, bool) {
	for envVar, mapping := range configinit.EnvVarMap {
		if mapping.ConfigKey != key {
			continue
		}
		if _, set := os.LookupEnv(envVar); set {
			return envVar, true
		}
	}
	return "", false
}

// GetSettings returns every managed setting's current value and metadata.
func (s *Service) GetSettings() (SettingsResponse, error) {
	config, err := s.loadConfig()
	if err != nil {
		return SettingsResponse{}, err
	}
	info, err := os.Stat(s.configPath)
	if err != nil {
		return SettingsResponse{}, apierr.Wrap(apierr.CodeInternal, "failed to stat serverconfig.json", err)
	}

	settings := make([]SettingInfo, 0, len(ManagedSettings))
	for _, def := range ManagedSettings {
		envVar, managed := envVarFor(def.Key)
		settings = append(settings, SettingInfo{
			Key:             def.Key,
			Value:           config[def.Key],
			Type:            string(def.Type),
			LiveUpdate:      def.LiveUpdate,
			RequiresRestart: def.RequiresRestart,
			EnvManaged:      managed,
			EnvVar:          envVar,
		})
	}

	return SettingsResponse{
		Settings:     settings,
		SourceFile:   filepath.Base(s.configPath),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// UpdateSetting validates, sanitizes, and applies a single setting
// change, routing through a console command or a direct file edit.
func (s *Service) UpdateSetting(ctx context.Context, key string, rawValue string) (UpdateResult, error) {
	def, ok := ManagedSettings[key]
	if !ok {
		return UpdateResult{}, apierr.New(apierr.CodeSettingUnknown, fmt.Sprintf("unknown setting: %q", key))
	}

	value, err := configinit.ParseEnvValue(rawValue, def.Type)
	if err != nil {
		return UpdateResult{}, apierr.Wrap(apierr.CodeSettingInvalid, fmt.Sprintf("invalid value for setting %q", key), err)
	}

	if def.Type == configinit.TypeString {
		sanitized, err := sanitizeForConsole(value.(string))
		if err != nil {
			return UpdateResult{}, apierr.Wrap(apierr.CodeSettingInvalid, fmt.Sprintf("invalid value for setting %q", key), err)
		}
		value = sanitized
	}

	if s.blockEnvManaged {
		if envVar, managed := envVarFor(key); managed {
			return UpdateResult{}, apierr.New(apierr.CodeSettingEnvManaged, fmt.Sprintf("setting %q is managed by environment variable %s", key, envVar))
		}
	}

	useConsole := s.isServerRunning() && def.LiveUpdate
	if useConsole {
		return s.executeConsoleCommand(ctx, key, value, def)
	}
	return s.updateConfigFile(key, value, def)
}

// sanitizeForConsole rejects characters that could break out of a
// double-quoted console command argument.
func sanitizeForConsole(value string) (string, error) {
	if strings.Contains(value, `"`) {
		return "", fmt.Errorf("string values cannot contain double quotes")
	}
	if strings.Contains(value, `\`) {
		return "", fmt.Errorf("string values cannot contain backslashes")
	}
	if strings.ContainsAny(value, "\n\r") {
		return "", fmt.Errorf("string values cannot contain newlines")
	}
	return value, nil
}

func formatBoolForConsole(v bool, format BoolFormat) string {
	if format == BoolZeroOne {
		if v {
			return "1"
		}
		return "0"
	}
	if v {
		return "true"
	}
	return "false"
}

func (s *Service) executeConsoleCommand(ctx context.Context, key string, value any, def Setting) (UpdateResult, error) {
	if def.ConsoleCommand == "" {
		return UpdateResult{}, apierr.New(apierr.CodeSettingUpdateFail, fmt.Sprintf("no console command available for setting %q", key))
	}

	var formatted string
	if def.Type == configinit.TypeBool {
		formatted = formatBoolForConsole(value.(bool), def.BoolFormat)
	} else {
		formatted = fmt.Sprint(value)
	}

	command := fmt.Sprintf(def.ConsoleCommand, formatted)
	if err := s.server.SendCommand(ctx, command); err != nil {
		return UpdateResult{}, apierr.Wrap(apierr.CodeSettingUpdateFail, fmt.Sprintf("console command failed for setting %q", key), err)
	}

	return UpdateResult{Key: key, Value: value, Method: MethodConsoleCommand, PendingRestart: false}, nil
}

func (s *Service) updateConfigFile(key string, value any, def Setting) (UpdateResult, error) {
	config, err := s.loadConfig()
	if err != nil {
		return UpdateResult{}, err
	}
	config[key] = value

	if err := writeConfigAtomic(s.configPath, config); err != nil {
		return UpdateResult{}, apierr.Wrap(apierr.CodeSettingUpdateFail, fmt.Sprintf("failed to update setting %q", key), err)
	}

	// A restart is pending whenever the setting is inherently
	// restart-required, or it was merely live-update-incapable and we
	// fell back to a file write while the server was already running.
	pendingRestart := def.RequiresRestart || (!def.LiveUpdate && s.isServerRunning())
	if pendingRestart && s.restart != nil {
		s.restart.RequireRestart(fmt.Sprintf("setting %q changed, requires server restart", key))
	}

	return UpdateResult{Key: key, Value: value, Method: MethodFileUpdate, PendingRestart: pendingRestart}, nil
}

func writeConfigAtomic(path string, config map[string]any) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

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

// Package modmanager orchestrates the mod index, the catalogue client,
// and the download cache into the install/enable/disable/remove
// workflow exposed over the API.
package modmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"vsmanager/internal/apierr"
	"vsmanager/internal/cache"
	"vsmanager/internal/modcatalogue"
	"vsmanager/internal/modindex"
	"vsmanager/internal/restart"
)

// Mod is the manager's public view of one installed mod, combining index
// state with cached catalogue metadata.
type Mod struct {
	Slug        string `json:"slug"`
	Filename    string `json:"filename"`
	Version     string `json:"version"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

// InstallResult reports the outcome of an install.
type InstallResult struct {
	Mod           Mod
	Compatibility modcatalogue.Compatibility
	Message       string
}

// Manager wires together the mod index, catalogue client, download
// cache, and restart-pending tracker.
type Manager struct {
	index      *modindex.Index
	catalogue  *modcatalogue.Client
	cache      *cache.Cache
	restart    *restart.State
	serverVersion func() string
	running    atomic.Bool
	log        *slog.Logger
}

// New constructs a Manager. serverVersion is called lazily at install
// time so the manager always compares against the currently running
// server version.
func New(index *modindex.Index, catalogue *modcatalogue.Client, c *cache.Cache, r *restart.State, serverVersion func() string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		index:         index,
		catalogue:     catalogue,
		cache:         c,
		restart:       r,
		serverVersion: serverVersion,
		log:           log,
	}
}

// SetServerRunning records whether the supervised child is currently
// running, so mutation operations only raise a pending-restart when a
// running child actually needs one. The supervisor calls this on every
// start/exit transition.
func (m *Manager) SetServerRunning(running bool) {
	m.running.Store(running)
}

// List returns every installed mod.
func (m *Manager) List() []Mod {
	states := m.index.List()
	out := make([]Mod, 0, len(states))
	for _, s := range states {
		out = append(out, m.toMod(s))
	}
	return out
}

func (m *Manager) toMod(s modindex.State) Mod {
	mod := Mod{
		Slug:     s.Slug,
		Filename: s.Filename,
		Version:  s.Version,
		Name:     s.Slug,
		Enabled:  s.Enabled,
	}
	if meta, ok := m.index.CachedMetadata(s.Slug, s.Version); ok {
		if meta.Name != "" {
			mod.Name = meta.Name
		}
		mod.Description = meta.Description
	}
	return mod
}

// Get returns one installed mod by slug.
func (m *Manager) Get(slug string) (Mod, error) {
	s, ok := m.index.GetBySlug(slug)
	if !ok {
		return Mod{}, apierr.New(apierr.CodeModNotFound, fmt.Sprintf("mod %q is not installed", slug))
	}
	return m.toMod(s), nil
}

// Lookup queries the catalogue for a mod by slug or mod-page URL without
// installing it.
func (m *Manager) Lookup(ctx context.Context, slugOrURL string) (modcatalogue.ModDetail, error) {
	slug, err := modcatalogue.ExtractSlug(slugOrURL)
	if err != nil {
		return modcatalogue.ModDetail{}, apierr.Wrap(apierr.CodeInvalidSlug, "could not parse mod slug", err)
	}
	detail, err := m.catalogue.GetMod(ctx, slug)
	if err != nil {
		if errors.Is(err, modcatalogue.ErrModNotFound) {
			return modcatalogue.ModDetail{}, apierr.Wrap(apierr.CodeModNotFound, fmt.Sprintf("mod %q not found in catalogue", slug), err)
		}
		return modcatalogue.ModDetail{}, apierr.Wrap(apierr.CodeExternalAPI, "catalogue lookup failed", err)
	}
	return detail, nil
}

// Install downloads and registers a mod. Any failure partway through
// cleans up the partially written archive and leaves the index
// untouched.
func (m *Manager) Install(ctx context.Context, slugOrURL, version string) (InstallResult, error) {
	slug, err := modcatalogue.ExtractSlug(slugOrURL)
	if err != nil {
		return InstallResult{}, apierr.Wrap(apierr.CodeInvalidSlug, "could not parse mod slug", err)
	}

	if _, ok := m.index.GetBySlug(slug); ok {
		return InstallResult{}, apierr.New(apierr.CodeModAlreadyInst, fmt.Sprintf("mod %q is already installed", slug))
	}

	detail, err := m.catalogue.GetMod(ctx, slug)
	if err != nil {
		if errors.Is(err, modcatalogue.ErrModNotFound) {
			return InstallResult{}, apierr.Wrap(apierr.CodeModNotFound, fmt.Sprintf("mod %q not found in catalogue", slug), err)
		}
		return InstallResult{}, apierr.Wrap(apierr.CodeExternalAPI, "catalogue lookup failed", err)
	}

	release, ok := modcatalogue.SelectRelease(detail.Releases, version)
	if !ok {
		return InstallResult{}, apierr.New(apierr.CodeVersionNotFound, fmt.Sprintf("no release matching version %q", version))
	}

	compat := modcatalogue.CheckCompatibility(release.Tags, m.serverVersion())

	// C4 downloads into the content cache; the mod only becomes visible
	// to the game server once it's copied from there into the real mods
	// directory via copy->temp->rename.
	dl, err := m.catalogue.DownloadMod(ctx, release, m.cache.ModsDir())
	if err != nil {
		return InstallResult{}, apierr.Wrap(apierr.CodeExternalAPI, "download failed", err)
	}

	filename := filepath.Base(dl.Path)
	destPath, err := copyToModsDir(dl.Path, m.index.ModsDir(), filename)
	if err != nil {
		return InstallResult{}, apierr.Wrap(apierr.CodeInternal, "failed to install mod archive", err)
	}

	meta, importErr := m.index.ImportMod(destPath)
	if importErr != nil {
		m.log.Warn("mod_install_metadata_fallback", "slug", slug, "error", importErr)
	}
	if importErr != nil || meta.ModID == "" {
		meta.ModID = slug
	}

	m.index.Set(modindex.State{
		Filename: filename,
		Slug:     meta.ModID,
		Version:  release.ModVersion,
		Enabled:  true,
		AssetID:  release.AssetID,
	})

	if err := m.index.Save(); err != nil {
		// Roll back: remove the archive from the mods directory and the
		// in-memory entry so a partial install never lingers as a
		// phantom mod. The cache copy is left alone for the evictor.
		_ = os.Remove(destPath)
		m.index.Remove(filename)
		return InstallResult{}, apierr.Wrap(apierr.CodeInternal, "failed to persist mod index", err)
	}

	m.cache.EvictIfNeeded()
	if m.running.Load() {
		m.restart.RequireRestart(fmt.Sprintf("mod %q installed", meta.ModID))
	}

	return InstallResult{
		Mod:           m.toMod(modindex.State{Slug: meta.ModID, Version: release.ModVersion, Enabled: true}),
		Compatibility: compat,
		Message:       compatibilityMessage(compat, meta.ModID),
	}, nil
}

// copyToModsDir copies srcPath into modsDir under filename, writing to a
// .tmp sibling first and renaming into place only on full success.
func copyToModsDir(srcPath, modsDir, filename string) (string, error) {
	if err := os.MkdirAll(modsDir, 0o755); err != nil {
		return "", err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	destPath := filepath.Join(modsDir, filename)
	tmpPath := destPath + ".tmp"

	out, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	_, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if copyErr != nil {
			return "", copyErr
		}
		return "", closeErr
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return destPath, nil
}

func compatibilityMessage(c modcatalogue.Compatibility, slug string) string {
	switch c {
	case modcatalogue.Compatible:
		return fmt.Sprintf("%s is compatible with the running server version.", slug)
	case modcatalogue.NotVerified:
		return fmt.Sprintf("%s's compatibility with the running server version could not be verified.", slug)
	case modcatalogue.Incompatible:
		return fmt.Sprintf("%s does not declare support for the running server version.", slug)
	default:
		return ""
	}
}

// Enable flips a disabled mod's archive extension back to .zip.
func (m *Manager) Enable(slug string) error {
	return m.setEnabled(slug, true)
}

// Disable renames a mod's archive to .zip.disabled so the game server
// skips loading it.
func (m *Manager) Disable(slug string) error {
	return m.setEnabled(slug, false)
}

func (m *Manager) setEnabled(slug string, enabled bool) error {
	s, ok := m.index.GetBySlug(slug)
	if !ok {
		return apierr.New(apierr.CodeModNotFound, fmt.Sprintf("mod %q is not installed", slug))
	}
	if s.Enabled == enabled {
		return nil
	}

	oldPath := filepath.Join(m.index.ModsDir(), s.Filename)
	var newFilename string
	if enabled {
		newFilename = strings.TrimSuffix(s.Filename, ".disabled")
	} else {
		newFilename = s.Filename + ".disabled"
	}
	newPath := filepath.Join(m.index.ModsDir(), newFilename)

	if err := os.Rename(oldPath, newPath); err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to toggle mod archive", err)
	}

	m.index.Remove(s.Filename)
	s.Filename = newFilename
	s.Enabled = enabled
	m.index.Set(s)
	if err := m.index.Save(); err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to persist mod index", err)
	}

	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	if m.running.Load() {
		m.restart.RequireRestart(fmt.Sprintf("mod %q %s", slug, verb))
	}
	return nil
}

// Remove deletes a mod's archive, its index entry, and its per-mod
// metadata cache directory.
func (m *Manager) Remove(slug string) error {
	s, ok := m.index.GetBySlug(slug)
	if !ok {
		return apierr.New(apierr.CodeModNotFound, fmt.Sprintf("mod %q is not installed", slug))
	}

	path := filepath.Join(m.index.ModsDir(), s.Filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apierr.Wrap(apierr.CodeInternal, "failed to remove mod archive", err)
	}

	m.index.Remove(s.Filename)
	if err := m.index.Save(); err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to persist mod index", err)
	}

	metaDir := filepath.Join(m.index.StateDir(), "mods", slug)
	if err := os.RemoveAll(metaDir); err != nil {
		m.log.Warn("mod_metadata_cleanup_failed", "slug", slug, "error", err)
	}

	if m.running.Load() {
		m.restart.RequireRestart(fmt.Sprintf("mod %q removed", slug))
	}
	return nil
}

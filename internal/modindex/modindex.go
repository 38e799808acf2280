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

// Package modindex is the durable mapping of mod archive filenames to
// their (slug, version, enabled, installed_at) state, reconciled against
// the mods directory on disk.
package modindex

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

var reservedDeviceNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// ValidSlug reports whether slug satisfies the catalogue identifier
// constraints: safe character class, length, and not a reserved device
// name.
func ValidSlug(slug string) bool {
	if !slugPattern.MatchString(slug) {
		return false
	}
	return !reservedDeviceNames[strings.ToLower(slug)]
}

// State is one mod archive's persisted record.
type State struct {
	Filename    string    `json:"filename"`
	Slug        string    `json:"slug"`
	Version     string    `json:"version"`
	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installed_at"`
	AssetID     int64     `json:"asset_id"`
}

// Metadata is a mod's descriptive manifest, either parsed from the
// archive's modinfo.json or a fallback derived from the filename.
type Metadata struct {
	ModID       string   `json:"modid"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Authors     []string `json:"authors,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Index persists to <state_dir>/mods.json and caches per-mod metadata
// under <state_dir>/mods/<slug>/<version>/modinfo.json.
type Index struct {
	mu       sync.Mutex
	stateDir string
	modsDir  string
	byFile   map[string]*State
	log      *slog.Logger
}

// New constructs an Index rooted at stateDir (mods.json + cached
// metadata) reconciling against modsDir (the archives themselves).
func New(stateDir, modsDir string, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{
		stateDir: stateDir,
		modsDir:  modsDir,
		byFile:   make(map[string]*State),
		log:      log,
	}
}

func (idx *Index) stateFile() string { return filepath.Join(idx.stateDir, "mods.json") }

// Load reads mods.json. A missing or malformed file yields an empty index
// and a logged warning; it never returns an error.
func (idx *Index) Load() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	data, err := os.ReadFile(idx.stateFile())
	if err != nil {
		if !os.IsNotExist(err) {
			idx.log.Warn("mod_index_load_failed", "path", idx.stateFile(), "error", err)
		}
		idx.byFile = make(map[string]*State)
		return
	}

	var m map[string]*State
	if err := json.Unmarshal(data, &m); err != nil {
		idx.log.Warn("mod_index_load_failed", "path", idx.stateFile(), "error", err)
		idx.byFile = make(map[string]*State)
		return
	}
	idx.byFile = m
}

// Save writes mods.json via temp-file + rename. On any failure the temp
// file is best-effort removed and the error is returned.
func (idx *Index) Save() error {
	idx.mu.Lock()
	snapshot := make(map[string]*State, len(idx.byFile))
	for k, v := range idx.byFile {
		snapshot[k] = v
	}
	idx.mu.Unlock()

	if err := os.MkdirAll(idx.stateDir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tmp := idx.stateFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		idx.log.Error("mod_index_save_failed", "path", idx.stateFile(), "error", err)
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, idx.stateFile()); err != nil {
		idx.log.Error("mod_index_save_failed", "path", idx.stateFile(), "error", err)
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// List returns a snapshot of every mod state record.
func (idx *Index) List() []State {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]State, 0, len(idx.byFile))
	for _, s := range idx.byFile {
		out = append(out, *s)
	}
	return out
}

// GetByFilename looks up a record by its exact archive filename.
func (idx *Index) GetByFilename(filename string) (State, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	s, ok := idx.byFile[filename]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// GetBySlug looks up a record by mod slug.
func (idx *Index) GetBySlug(slug string) (State, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, s := range idx.byFile {
		if s.Slug == slug {
			return *s, true
		}
	}
	return State{}, false
}

// Set inserts or replaces the record keyed by its filename.
func (idx *Index) Set(s State) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cp := s
	idx.byFile[s.Filename] = &cp
}

// Remove deletes the record keyed by filename.
func (idx *Index) Remove(filename string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.byFile, filename)
}

// StateDir exposes the state directory root (used to locate per-mod
// metadata caches for cleanup on Remove).
func (idx *Index) StateDir() string { return idx.stateDir }

// ModsDir exposes the archive directory.
func (idx *Index) ModsDir() string { return idx.modsDir }

// ScanModsDirectory lists archive files in the mods directory ending in
// .zip or .zip.disabled.
func (idx *Index) ScanModsDirectory() ([]string, error) {
	entries, err := os.ReadDir(idx.modsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".zip.disabled") {
			out = append(out, name)
		}
	}
	return out, nil
}

// SyncStateWithDisk reconciles the index against the mods directory:
// archives present on disk but absent from the index are imported and
// added; index entries with no archive on disk are removed. Persists only
// if something changed, so calling it twice in a row is idempotent.
func (idx *Index) SyncStateWithDisk() error {
	onDisk, err := idx.ScanModsDirectory()
	if err != nil {
		return err
	}
	diskSet := make(map[string]bool, len(onDisk))
	for _, f := range onDisk {
		diskSet[f] = true
	}

	idx.mu.Lock()
	indexedSet := make(map[string]bool, len(idx.byFile))
	for f := range idx.byFile {
		indexedSet[f] = true
	}
	idx.mu.Unlock()

	changed := false

	for f := range indexedSet {
		if !diskSet[f] {
			idx.Remove(f)
			changed = true
		}
	}

	for f := range diskSet {
		if indexedSet[f] {
			continue
		}
		meta, err := idx.ImportMod(filepath.Join(idx.modsDir, f))
		if err != nil {
			idx.log.Warn("mod_sync_import_failed", "filename", f, "error", err)
		}
		idx.Set(State{
			Filename:    f,
			Slug:        meta.ModID,
			Version:     meta.Version,
			Enabled:     !strings.HasSuffix(f, ".disabled"),
			InstalledAt: time.Now().UTC(),
		})
		changed = true
	}

	if changed {
		return idx.Save()
	}
	return nil
}

// ImportMod extracts modinfo.json from an archive and caches it. On any
// failure a fallback metadata derived from the filename is returned
// (never an error the caller must abort on, mirroring the tolerant
// behavior of the rest of this index).
func (idx *Index) ImportMod(archivePath string) (Metadata, error) {
	meta, err := extractModInfo(archivePath)
	if err != nil {
		base := filepath.Base(archivePath)
		base = strings.TrimSuffix(base, ".disabled")
		base = strings.TrimSuffix(base, ".zip")
		return Metadata{ModID: base, Name: base, Version: "unknown"}, err
	}
	if e := idx.cacheModInfo(meta.ModID, meta.Version, archivePath); e != nil {
		idx.log.Warn("mod_metadata_cache_failed", "slug", meta.ModID, "error", e)
	}
	return meta, nil
}

func extractModInfo(archivePath string) (Metadata, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return Metadata{}, err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, "modinfo.json") {
			continue
		}
		if !isSafeZipPath(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Metadata{}, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Metadata{}, err
		}
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			return Metadata{}, err
		}
		if m.ModID == "" {
			return Metadata{}, errors.New("modinfo.json missing modid")
		}
		return m, nil
	}
	return Metadata{}, errors.New("no modinfo.json member found")
}

// isSafeZipPath rejects archive member names that would traverse outside
// the extraction root (absolute paths, ".." segments, or separators that
// resolve the same way on Windows).
func isSafeZipPath(name string) bool {
	clean := filepath.ToSlash(filepath.Clean(name))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "../") || clean == ".." {
		return false
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// cacheModInfo writes the mod's metadata under
// <state_dir>/mods/<slug>/<version>/modinfo.json, refusing any slug or
// version containing "/" or "..".
func (idx *Index) cacheModInfo(slug, version, archivePath string) error {
	if strings.Contains(slug, "/") || strings.Contains(slug, "..") {
		return errors.New("unsafe slug for metadata cache")
	}
	if strings.Contains(version, "/") || strings.Contains(version, "..") {
		return errors.New("unsafe version for metadata cache")
	}

	meta, err := extractModInfo(archivePath)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Join(idx.stateDir, "mods", slug, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "modinfo.json"), data, 0o644)
}

// CachedMetadata reads back a previously cached modinfo.json, if present.
func (idx *Index) CachedMetadata(slug, version string) (Metadata, bool) {
	path := filepath.Join(idx.stateDir, "mods", slug, version, "modinfo.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, false
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, false
	}
	return m, true
}

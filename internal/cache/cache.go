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

// Package cache implements the size-bounded mod download cache and its
// LRU-by-access-time eviction pass.
package cache

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// eligibleExt is the set of file extensions considered for eviction; any
// other file under the cache's mods subdirectory is ignored.
var eligibleExt = map[string]bool{".zip": true, ".cs": true}

// fileInfo describes one candidate file for eviction decisions.
type fileInfo struct {
	path       string
	sizeBytes  int64
	accessTime time.Time
}

// Stats reports the current contents of the cache.
type Stats struct {
	FileCount     int
	TotalSizeByte int64
	MaxSizeByte   int64
}

// Result reports the outcome of an eviction pass.
type Result struct {
	FilesEvicted   int
	BytesFreed     int64
	FilesRemaining int
	BytesRemaining int64
}

// Cache owns <root>/mods and enforces a size cap via LRU eviction.
type Cache struct {
	root        string
	modsDir     string
	maxSizeByte int64
	log         *slog.Logger
}

// New constructs a Cache rooted at root, with a cap of maxSizeMB megabytes.
// A cap of 0 disables eviction entirely.
func New(root string, maxSizeMB int, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		root:        root,
		modsDir:     filepath.Join(root, "mods"),
		maxSizeByte: int64(maxSizeMB) * 1024 * 1024,
		log:         log,
	}
}

// ModsDir returns the directory mod archives are downloaded into.
func (c *Cache) ModsDir() string { return c.modsDir }

// EvictionEnabled reports whether the size cap is active.
func (c *Cache) EvictionEnabled() bool { return c.maxSizeByte > 0 }

func (c *Cache) listFiles() []fileInfo {
	entries, err := os.ReadDir(c.modsDir)
	if err != nil {
		return nil
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !eligibleExt[filepath.Ext(e.Name())] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			c.log.Warn("cache_file_stat_failed", "path", e.Name(), "error", err)
			continue
		}
		files = append(files, fileInfo{
			path:       filepath.Join(c.modsDir, e.Name()),
			sizeBytes:  info.Size(),
			accessTime: accessTime(info),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].accessTime.Before(files[j].accessTime) })
	return files
}

// Stats returns current file count / total size.
func (c *Cache) Stats() Stats {
	files := c.listFiles()
	var total int64
	for _, f := range files {
		total += f.sizeBytes
	}
	return Stats{FileCount: len(files), TotalSizeByte: total, MaxSizeByte: c.maxSizeByte}
}

// EvictIfNeeded evicts the oldest-accessed files until the cache is at or
// under the size cap. Deletion failures are logged and do not abort the
// pass; the file remains counted as present. Remaining counts are taken
// from a fresh rescan after the pass so they reflect any deletion
// failures.
func (c *Cache) EvictIfNeeded() Result {
	if !c.EvictionEnabled() {
		s := c.Stats()
		return Result{FilesRemaining: s.FileCount, BytesRemaining: s.TotalSizeByte}
	}

	files := c.listFiles()
	var total int64
	for _, f := range files {
		total += f.sizeBytes
	}
	if total <= c.maxSizeByte {
		return Result{FilesRemaining: len(files), BytesRemaining: total}
	}

	var evicted int
	var freed int64
	current := total
	for _, f := range files {
		if current <= c.maxSizeByte {
			break
		}
		if err := os.Remove(f.path); err != nil {
			c.log.Warn("cache_eviction_failed", "path", f.path, "error", err)
			continue
		}
		c.log.Info("cache_evicted", "file", filepath.Base(f.path), "size_bytes", f.sizeBytes, "reason", "size_limit")
		freed += f.sizeBytes
		current -= f.sizeBytes
		evicted++
	}

	remaining := c.listFiles()
	var remainingBytes int64
	for _, f := range remaining {
		remainingBytes += f.sizeBytes
	}
	if evicted > 0 {
		c.log.Info("cache_eviction_complete", "files_evicted", evicted, "bytes_freed", freed, "bytes_remaining", remainingBytes)
	}
	return Result{FilesEvicted: evicted, BytesFreed: freed, FilesRemaining: len(remaining), BytesRemaining: remainingBytes}
}

// EvictAll deletes every eligible file in the cache, regardless of the
// size cap. Remaining counts come from a fresh rescan, same as
// EvictIfNeeded, so failed deletions are reflected accurately.
func (c *Cache) EvictAll() Result {
	files := c.listFiles()
	var evicted int
	var freed int64
	for _, f := range files {
		if err := os.Remove(f.path); err != nil {
			c.log.Warn("cache_eviction_failed", "path", f.path, "error", err)
			continue
		}
		c.log.Info("cache_evicted", "file", filepath.Base(f.path), "size_bytes", f.sizeBytes, "reason", "manual_clear")
		freed += f.sizeBytes
		evicted++
	}

	remaining := c.listFiles()
	var remainingBytes int64
	for _, f := range remaining {
		remainingBytes += f.sizeBytes
	}
	return Result{FilesEvicted: evicted, BytesFreed: freed, FilesRemaining: len(remaining), BytesRemaining: remainingBytes}
}

// EnsureDirs creates the cache's mods subdirectory if absent.
func (c *Cache) EnsureDirs() error {
	return os.MkdirAll(c.modsDir, 0o755)
}

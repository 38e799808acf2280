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

// Package versioncache holds the most recently fetched remote server
// version list per channel, so the HTTP API and the installer can keep
// working when the upstream version API is unreachable. Degradation is
// per channel: a failed refresh of "unstable" never touches whatever is
// already cached for "stable".
package versioncache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"vsmanager/internal/apierr"
)

const (
	ChannelStable   = "stable"
	ChannelUnstable = "unstable"

	defaultBaseURL = "https://moddb.vintagestory.at/versions"
	fetchTimeout   = 15 * time.Second
	cacheCapacity  = 8 // only 2 channels exist today; sized generously for future channels
)

// VersionInfo describes one downloadable server build.
type VersionInfo struct {
	Version  string `json:"version"`
	Filename string `json:"filename"`
	FileSize int64  `json:"filesize"`
	MD5      string `json:"md5"`
	CDNURL   string `json:"cdn_url"`
	LocalURL string `json:"local_url"`
	IsLatest bool   `json:"is_latest"`
	Channel  string `json:"channel"`
}

// Snapshot is everything known about one channel as of CachedAt.
type Snapshot struct {
	Channel  string        `json:"channel"`
	Versions []VersionInfo `json:"versions"`
	CachedAt time.Time     `json:"cached_at"`
}

// Latest returns the snapshot's is_latest entry, if any.
func (s Snapshot) Latest() (VersionInfo, bool) {
	for _, v := range s.Versions {
		if v.IsLatest {
			return v, true
		}
	}
	return VersionInfo{}, false
}

// Fetcher queries the upstream version API for one channel's full list.
type Fetcher interface {
	FetchChannel(ctx context.Context, channel string) ([]VersionInfo, error)
}

// Cache holds the latest successfully fetched Snapshot per channel,
// backed by an LRU so a deployment that someday tracks many channels
// (betas, regional mirrors) doesn't grow this unbounded.
type Cache struct {
	snapshots *lru.Cache[string, Snapshot]
	fetcher   Fetcher
	log       *slog.Logger
}

// New constructs a Cache. capacity is the maximum number of distinct
// channels retained; callers needing only "stable"/"unstable" can pass 0
// to use the package default.
func New(fetcher Fetcher, log *slog.Logger, capacity int) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	if capacity <= 0 {
		capacity = cacheCapacity
	}
	c, err := lru.New[string, Snapshot](capacity)
	if err != nil {
		return nil, fmt.Errorf("constructing version cache: %w", err)
	}
	return &Cache{snapshots: c, fetcher: fetcher, log: log}, nil
}

// Refresh queries every channel in channels, replacing that channel's
// cached Snapshot on success. A failed channel keeps whatever Snapshot it
// already had (possibly none), and its error is logged but does not stop
// the remaining channels from being refreshed.
func (c *Cache) Refresh(ctx context.Context, channels ...string) {
	if len(channels) == 0 {
		channels = []string{ChannelStable, ChannelUnstable}
	}
	for _, channel := range channels {
		versions, err := c.fetcher.FetchChannel(ctx, channel)
		if err != nil {
			c.log.Warn("version_refresh_failed", "channel", channel, "error", err)
			continue
		}
		c.snapshots.Add(channel, Snapshot{
			Channel:  channel,
			Versions: versions,
			CachedAt: time.Now(),
		})
	}
}

// Get returns the cached Snapshot for channel, if one has ever been
// populated.
func (c *Cache) Get(channel string) (Snapshot, bool) {
	return c.snapshots.Get(channel)
}

// Channels lists every channel currently holding a cached Snapshot, in
// stable sorted order.
func (c *Cache) Channels() []string {
	keys := c.snapshots.Keys()
	sort.Strings(keys)
	return keys
}

// lookup finds version within channel's cached Snapshot. An empty
// version selects that channel's latest. An empty channel searches every
// cached channel in sorted order.
func (c *Cache) lookup(version, channel string) (VersionInfo, error) {
	channels := []string{channel}
	if channel == "" {
		channels = c.Channels()
	}
	for _, ch := range channels {
		snap, ok := c.snapshots.Get(ch)
		if !ok {
			continue
		}
		if version == "" {
			if v, ok := snap.Latest(); ok {
				return v, nil
			}
			continue
		}
		for _, v := range snap.Versions {
			if v.Version == version {
				return v, nil
			}
		}
	}
	return VersionInfo{}, apierr.New(apierr.CodeVersionNotFound,
		fmt.Sprintf("version %q not found on channel %q", version, channel))
}

// Resolve implements supervisor.VersionResolver: it looks up version
// within channel (or that channel's latest, if version is empty) and
// returns a download URL and expected MD5 for the installer to fetch.
// The CDN URL is preferred; the local mirror is used only if no CDN URL
// was published for that build.
func (c *Cache) Resolve(_ context.Context, version, channel string) (downloadURL, md5Sum string, err error) {
	v, err := c.lookup(version, channel)
	if err != nil {
		return "", "", err
	}
	downloadURL = v.CDNURL
	if downloadURL == "" {
		downloadURL = v.LocalURL
	}
	if downloadURL == "" {
		return "", "", apierr.New(apierr.CodeVersionNotFound,
			fmt.Sprintf("version %q on channel %q has no download URL", v.Version, channel))
	}
	return downloadURL, v.MD5, nil
}

// HTTPFetcher is the production Fetcher, talking to the real version API.
type HTTPFetcher struct {
	baseURL    string
	httpClient *http.Client
}

// FetcherOption customizes an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithFetcherHTTPClient overrides the underlying *http.Client (tests
// point this at an httptest.Server).
func WithFetcherHTTPClient(hc *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.httpClient = hc }
}

// WithFetcherBaseURL overrides the version API base URL.
func WithFetcherBaseURL(u string) FetcherOption {
	return func(f *HTTPFetcher) { f.baseURL = u }
}

// NewHTTPFetcher constructs an HTTPFetcher against the production version
// API.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type versionArtifact struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"filesize"`
	MD5      string `json:"md5"`
	URLs     struct {
		CDN   string `json:"cdn"`
		Local string `json:"local"`
	} `json:"urls"`
	Latest bool `json:"latest"`
}

type versionEntry struct {
	Artifact versionArtifact `json:"artifact"`
}

// FetchChannel queries {base}/{channel} and parses the nested
// version->artifact map the version API returns into a flat, sorted list.
func (f *HTTPFetcher) FetchChannel(ctx context.Context, channel string) ([]VersionInfo, error) {
	reqURL := fmt.Sprintf("%s/%s", f.baseURL, url.PathEscape(channel))
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("version API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("version API returned status %d", resp.StatusCode)
	}

	var parsed map[string]versionEntry
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding version API response: %w", err)
	}

	versions := make([]VersionInfo, 0, len(parsed))
	for version, entry := range parsed {
		versions = append(versions, VersionInfo{
			Version:  version,
			Filename: entry.Artifact.Filename,
			FileSize: entry.Artifact.FileSize,
			MD5:      entry.Artifact.MD5,
			CDNURL:   entry.Artifact.URLs.CDN,
			LocalURL: entry.Artifact.URLs.Local,
			IsLatest: entry.Artifact.Latest,
			Channel:  channel,
		})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version > versions[j].Version })
	return versions, nil
}

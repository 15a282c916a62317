package core

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/chenv/internal/artifact"
	"github.com/giantswarm/chenv/internal/sentinel"
)

// ErrBinaryPathRequired is returned by ImportBinary without a binary.
const ErrBinaryPathRequired = sentinel.Error("binary path required")

// CacheEntry describes one installed distribution.
type CacheEntry struct {
	Key         string
	Version     string
	Platform    string
	Source      string // "download" or "import"
	URL         string
	Dir         string
	Binary      string
	InstalledAt time.Time
	LastUsed    time.Time
	Uses        int64
}

func cacheEntry(e artifact.Entry) CacheEntry {
	return CacheEntry{
		Key:         e.Key,
		Version:     e.Marker.Version,
		Platform:    e.Marker.Platform,
		Source:      e.Marker.Source,
		URL:         e.Marker.URL,
		Dir:         e.Dir,
		Binary:      e.Binary,
		InstalledAt: e.Marker.InstalledAt,
		LastUsed:    e.LastUsed,
		Uses:        e.Uses,
	}
}

// VersionInfo is one entry of the version index for the manager's platform.
type VersionInfo struct {
	Version string
	Channel string
	URL     string
	Key     string
	Cached  bool // installed in the configured cache directory
}

// Fetch installs version into the cache without starting a server. Empty
// cacheDir means the configured one.
func (m *Manager) Fetch(ctx context.Context, cacheDir, version string) (CacheEntry, error) {
	if m.IsShuttingDown() {
		return CacheEntry{}, ErrShuttingDown
	}
	d, err := m.resolver.Resolve(ctx, cmp.Or(version, m.cfg.DefaultVersion))
	if err != nil {
		return CacheEntry{}, err
	}
	e, err := m.ensure(ctx, cacheDir, d)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("fetch %s: %w", d.Version, err)
	}
	return cacheEntry(e), nil
}

// Versions lists the known versions for the manager's platform, newest
// first.
func (m *Manager) Versions(ctx context.Context) ([]VersionInfo, error) {
	descs, err := m.resolver.Entries(ctx)
	if err != nil {
		return nil, err
	}
	cached := make(map[string]bool)
	if entries, err := m.ListCache(ctx, ""); err == nil {
		for _, e := range entries {
			cached[e.Key] = true
		}
	} else {
		Logger().Debug("cache not readable, reporting nothing as cached", "error", err)
	}

	out := make([]VersionInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, VersionInfo{
			Version: d.Version,
			Channel: d.Channel,
			URL:     d.URL,
			Key:     d.Key,
			Cached:  cached[d.Key],
		})
	}
	return out, nil
}

// ListCache returns the installed entries, most recently used first.
func (m *Manager) ListCache(ctx context.Context, cacheDir string) ([]CacheEntry, error) {
	c, err := m.cache(ctx, cacheDir)
	if err != nil {
		return nil, err
	}
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CacheEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cacheEntry(e))
	}
	return out, nil
}

// PruneCache removes entries not used within olderThan and returns their
// keys. Zero removes every entry that is not being installed or pruned
// elsewhere.
func (m *Manager) PruneCache(ctx context.Context, cacheDir string, olderThan time.Duration) ([]string, error) {
	if olderThan < 0 {
		return nil, fmt.Errorf("prune age must not be negative, got %s", olderThan)
	}
	c, err := m.cache(ctx, cacheDir)
	if err != nil {
		return nil, err
	}
	return c.Prune(ctx, olderThan)
}

// ImportBinary seeds the cache entry of version with a local executable,
// for hosts without access to the distribution. An already installed entry
// is returned unchanged.
func (m *Manager) ImportBinary(ctx context.Context, cacheDir, version, binary string) (CacheEntry, error) {
	if binary == "" {
		return CacheEntry{}, ErrBinaryPathRequired
	}
	d, err := m.resolver.Resolve(ctx, cmp.Or(version, m.cfg.DefaultVersion))
	if err != nil {
		return CacheEntry{}, err
	}
	c, err := m.cache(ctx, cacheDir)
	if err != nil {
		return CacheEntry{}, err
	}
	e, err := c.Import(ctx, d.Key, binary, artifact.Marker{
		Version:  d.Version,
		Platform: d.Platform.String(),
	})
	if err != nil {
		return CacheEntry{}, err
	}
	return cacheEntry(e), nil
}

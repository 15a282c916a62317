package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/chenv/internal/fileutil"
	"github.com/giantswarm/chenv/internal/sentinel"
)

// ErrInvalidKey is returned for keys that are not safe directory names.
const ErrInvalidKey = sentinel.Error("invalid cache key")

var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Entry is a committed, usable artifact.
type Entry struct {
	Key      string
	Dir      string
	Binary   string // absolute path of the clickhouse executable
	Marker   Marker
	LastUsed time.Time
	Uses     int64
}

// Config configures a Cache.
type Config struct {
	Dir    string
	Logger *slog.Logger
}

// Cache is safe for concurrent use by goroutines and by processes sharing
// the directory.
type Cache struct {
	dir    string
	log    *slog.Logger
	ledger *ledger

	keys keyLocks
	sf   singleflight.Group

	closeOnce sync.Once
	closeErr  error
}

// Open creates the cache layout under cfg.Dir if needed and opens the
// ledger.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache directory must not be empty")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	for _, sub := range []string{"entries", "staging", "locks"} {
		if err := fileutil.EnsureDir(filepath.Join(cfg.Dir, sub)); err != nil {
			return nil, err
		}
	}
	l, err := openLedger(ctx, filepath.Join(cfg.Dir, "ledger.db"))
	if err != nil {
		return nil, err
	}
	return &Cache{dir: cfg.Dir, log: log.With("cache", cfg.Dir), ledger: l}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Close closes the ledger. Safe to call more than once.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ledger.close()
	})
	return c.closeErr
}

func (c *Cache) entryDir(key string) string {
	return filepath.Join(c.dir, "entries", key)
}

func (c *Cache) lockPath(key string) string {
	return filepath.Join(c.dir, "locks", key+".lock")
}

func checkKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Lookup returns the committed entry for key. It reads only the marker and
// takes no lock. A hit is recorded in the ledger on a best-effort basis.
func (c *Cache) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	if err := checkKey(key); err != nil {
		return Entry{}, false, err
	}
	e, ok, err := c.load(key)
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	if err := c.ledger.touch(ctx, key, e.Marker.Version, time.Now()); err != nil {
		c.log.Warn("failed to record cache use", "key", key, "error", err)
	}
	return e, true, nil
}

func (c *Cache) load(key string) (Entry, bool, error) {
	dir := c.entryDir(key)
	m, ok, err := readMarker(dir)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return Entry{
		Key:    key,
		Dir:    dir,
		Binary: filepath.Join(dir, m.Binary),
		Marker: m,
	}, true, nil
}

// Install is an in-progress install holding the key's locks. Exactly one of
// Commit or Abort must follow BeginInstall; both are idempotent.
type Install struct {
	Key string
	// Staging is an empty directory to fill. Empty when Existing is set.
	Staging string
	// Existing is set when another installer committed the key while this
	// one waited for the lock. Nothing needs installing; call Abort.
	Existing *Entry

	cache *Cache
	lock  *flock.Flock
	done  bool
	mu    sync.Mutex
}

// BeginInstall takes the key's in-process and file locks and creates a fresh
// staging directory.
func (c *Cache) BeginInstall(ctx context.Context, key string) (*Install, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := c.keys.lock(ctx, key); err != nil {
		return nil, fmt.Errorf("wait for install of %s: %w", key, err)
	}
	fl, err := acquireFileLock(ctx, c.lockPath(key))
	if err != nil {
		c.keys.unlock(key)
		return nil, err
	}
	inst := &Install{Key: key, cache: c, lock: fl}

	// Re-check under the lock: another process may have finished.
	if e, ok, err := c.load(key); err != nil {
		inst.release()
		return nil, err
	} else if ok {
		inst.Existing = &e
		return inst, nil
	}

	staging, err := fileutil.MkdirUnique(filepath.Join(c.dir, "staging"), key+"-")
	if err != nil {
		inst.release()
		return nil, err
	}
	inst.Staging = staging
	return inst, nil
}

// release drops the locks. Callers hold inst.mu or own inst exclusively.
func (inst *Install) release() {
	if inst.done {
		return
	}
	inst.done = true
	releaseFileLock(inst.cache.log, inst.lock)
	inst.cache.keys.unlock(inst.Key)
}

// Commit moves the staging directory into place and writes the marker last.
// m.Binary must name a regular file relative to the staging directory.
func (c *Cache) Commit(ctx context.Context, inst *Install, m Marker) (Entry, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.done {
		return Entry{}, fmt.Errorf("install of %s already finished", inst.Key)
	}
	defer inst.release()

	if inst.Existing != nil {
		return *inst.Existing, nil
	}
	if err := c.commit(ctx, inst, m); err != nil {
		_ = os.RemoveAll(inst.Staging)
		return Entry{}, err
	}
	e, ok, err := c.load(inst.Key)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, fmt.Errorf("marker for %s missing after commit", inst.Key)
	}
	return e, nil
}

func (c *Cache) commit(ctx context.Context, inst *Install, m Marker) error {
	if !filepath.IsLocal(m.Binary) {
		return fmt.Errorf("marker binary %q must be relative to the entry", m.Binary)
	}
	info, err := os.Stat(filepath.Join(inst.Staging, m.Binary))
	if err != nil {
		return fmt.Errorf("staged binary: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("staged binary %s is not a regular file", m.Binary)
	}

	m.Key = inst.Key
	if m.InstalledAt.IsZero() {
		m.InstalledAt = time.Now().UTC()
	}

	dir := c.entryDir(inst.Key)
	// A directory without a marker is a leftover from an interrupted
	// commit or prune.
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove stale entry %s: %w", dir, err)
	}
	if err := os.Rename(inst.Staging, dir); err != nil {
		return fmt.Errorf("move staging into place: %w", err)
	}
	if err := writeMarker(dir, m); err != nil {
		return err
	}
	if err := c.ledger.record(ctx, m); err != nil {
		c.log.Warn("failed to record cache entry", "key", inst.Key, "error", err)
	}
	c.log.Info("cache entry committed", "key", inst.Key, "version", m.Version, "source", m.Source)
	return nil
}

// Abort discards the staging directory and releases the locks. It is a no-op
// after Commit.
func (c *Cache) Abort(inst *Install) {
	if inst == nil {
		return
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.done {
		return
	}
	if inst.Staging != "" {
		if err := os.RemoveAll(inst.Staging); err != nil {
			c.log.Warn("failed to remove staging directory", "path", inst.Staging, "error", err)
		}
	}
	inst.release()
}

// InstallFunc fills staging and returns the marker to commit.
type InstallFunc func(ctx context.Context, staging string) (Marker, error)

// Ensure returns the entry for key, running install when it is missing.
// Concurrent callers for the same key share one install.
func (c *Cache) Ensure(ctx context.Context, key string, install InstallFunc) (Entry, error) {
	if e, ok, err := c.Lookup(ctx, key); err != nil {
		return Entry{}, err
	} else if ok {
		return e, nil
	}

	v, err, shared := c.sf.Do(key, func() (any, error) {
		inst, err := c.BeginInstall(ctx, key)
		if err != nil {
			return Entry{}, err
		}
		if inst.Existing != nil {
			c.Abort(inst)
			return *inst.Existing, nil
		}

		m, err := install(ctx, inst.Staging)
		if err != nil {
			c.Abort(inst)
			return Entry{}, err
		}
		return c.Commit(ctx, inst, m)
	})
	if err != nil {
		return Entry{}, err
	}
	if shared {
		c.log.Debug("joined in-flight install", "key", key)
	}
	return v.(Entry), nil
}

// Import seeds key from a local binary, copying it with mode 0755. An
// existing entry is returned unchanged.
func (c *Cache) Import(ctx context.Context, key, binary string, m Marker) (Entry, error) {
	info, err := os.Stat(binary)
	if err != nil {
		return Entry{}, fmt.Errorf("import %s: %w", binary, err)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, fmt.Errorf("import %s: not a regular file", binary)
	}

	return c.Ensure(ctx, key, func(_ context.Context, staging string) (Marker, error) {
		if err := fileutil.CopyFile(binary, filepath.Join(staging, "clickhouse"), 0o755); err != nil {
			return Marker{}, fmt.Errorf("import %s: %w", binary, err)
		}
		m.Binary = "clickhouse"
		m.Source = SourceImport
		return m, nil
	})
}

// List returns every committed entry, most recently used first.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	dirents, err := os.ReadDir(filepath.Join(c.dir, "entries"))
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	usageByKey, err := c.ledger.all(ctx)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		e, ok, err := c.load(d.Name())
		if err != nil {
			c.log.Warn("skipping unreadable cache entry", "key", d.Name(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		e.LastUsed = e.Marker.InstalledAt
		if u, ok := usageByKey[e.Key]; ok {
			e.LastUsed, e.Uses = u.LastUsed, u.Uses
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return b.LastUsed.Compare(a.LastUsed)
	})
	return out, nil
}

// Prune removes entries last used before now-olderThan and returns their
// keys. Entries whose lock is held are skipped. Stale staging directories
// of unlocked keys are removed too.
func (c *Cache) Prune(ctx context.Context, olderThan time.Duration) ([]string, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-olderThan)

	var (
		removed []string
		errs    []error
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if olderThan > 0 && !e.LastUsed.Before(cutoff) {
			continue
		}
		ok, err := c.remove(ctx, e.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed = append(removed, e.Key)
		}
	}
	c.pruneStaging()
	return removed, errors.Join(errs...)
}

// remove deletes one entry under its locks, marker first.
func (c *Cache) remove(ctx context.Context, key string) (bool, error) {
	if !c.keys.tryLock(key) {
		c.log.Debug("skipping busy cache entry", "key", key)
		return false, nil
	}
	defer c.keys.unlock(key)

	fl, ok, err := tryFileLock(c.lockPath(key))
	if err != nil {
		return false, err
	}
	if !ok {
		c.log.Debug("skipping locked cache entry", "key", key)
		return false, nil
	}
	defer releaseFileLock(c.log, fl)

	dir := c.entryDir(key)
	if err := os.Remove(filepath.Join(dir, markerFile)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove marker of %s: %w", key, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove entry %s: %w", key, err)
	}
	if err := c.ledger.remove(ctx, key); err != nil {
		c.log.Warn("failed to drop ledger row", "key", key, "error", err)
	}
	c.log.Info("cache entry pruned", "key", key)
	return true, nil
}

// pruneStaging removes staging directories left by crashed installs.
// A staging directory belongs to key "<key>-<random>"; one whose key lock
// is free has no live installer.
func (c *Cache) pruneStaging() {
	stagingRoot := filepath.Join(c.dir, "staging")
	dirents, err := os.ReadDir(stagingRoot)
	if err != nil {
		return
	}
	for _, d := range dirents {
		key := stagingKey(d.Name())
		if key == "" || !c.keys.tryLock(key) {
			continue
		}
		fl, ok, err := tryFileLock(c.lockPath(key))
		if err == nil && ok {
			if err := os.RemoveAll(filepath.Join(stagingRoot, d.Name())); err != nil {
				c.log.Debug("failed to remove stale staging directory", "path", d.Name(), "error", err)
			}
			releaseFileLock(c.log, fl)
		}
		c.keys.unlock(key)
	}
}

// stagingKey strips the random suffix os.MkdirTemp appended.
func stagingKey(name string) string {
	i := len(name) - 1
	for i >= 0 && name[i] != '-' {
		i--
	}
	if i <= 0 {
		return ""
	}
	return name[:i]
}

package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/chenv/internal/artifact"
	"github.com/giantswarm/chenv/internal/fetch"
	"github.com/giantswarm/chenv/internal/fileutil"
	"github.com/giantswarm/chenv/internal/netutil"
	"github.com/giantswarm/chenv/internal/process"
	"github.com/giantswarm/chenv/internal/server"
	"github.com/giantswarm/chenv/internal/version"
)

// managerState represents the lifecycle state of a Manager.
type managerState uint32

const (
	managerReady        managerState = iota // Zero value; Start allowed
	managerShuttingDown                     // Shutdown called
)

// Manager starts ClickHouse servers and owns everything they share: the
// resolver, the download client, the port registry and the opened caches.
// It is safe for concurrent use by multiple goroutines.
//
// Synchronization strategy:
//   - state is an atomic managerState. Start reads it for the fast path and
//     again under mu when registering a new instance, so an instance is
//     either seen by Shutdown or stopped by its own Start.
//   - mu guards caches and live.
type Manager struct {
	cfg ManagerConfig

	resolver *version.Resolver
	client   *fetch.Client
	ports    *netutil.PortRegistry

	// earlyExitWindow overrides the server default when non-zero.
	earlyExitWindow time.Duration

	state atomic.Uint32

	mu     sync.Mutex
	caches map[string]*artifact.Cache // by directory
	live   map[*Instance]struct{}
}

func (m *Manager) loadState() managerState {
	return managerState(m.state.Load())
}

// NewManagerWithConfig creates a Manager. It performs no I/O; the version
// index, caches and downloads are touched on first use.
//
// Panics if cfg.Validate() reports any errors. Invalid configuration is a
// programmer error, similar to regexp.MustCompile.
func NewManagerWithConfig(cfg ManagerConfig) *Manager {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("chenv: invalid manager config: %v", err))
	}
	var platform version.Platform
	if cfg.Platform != "" {
		platform, _ = version.ParsePlatform(cfg.Platform) // checked by Validate
	}

	m := &Manager{
		cfg:    cfg,
		ports:  netutil.NewPortRegistry(Logger()),
		caches: make(map[string]*artifact.Cache),
		live:   make(map[*Instance]struct{}),
	}
	m.client = fetch.NewClient(fetch.ClientConfig{
		HTTPClient: cfg.HTTPClient,
		Retry:      cfg.Retry,
		Logger:     Logger(),
	})
	m.resolver = version.NewResolver(version.Config{
		BaseURL:     cfg.BaseURL,
		IndexSource: cfg.IndexSource,
		Loader:      m.loadIndex,
		Platform:    platform,
		Logger:      Logger(),
	})
	return m
}

// loadIndex reads local index files directly and fetches URLs with the
// download client, so index fetches get the same retries.
func (m *Manager) loadIndex(ctx context.Context, source string) ([]byte, error) {
	if version.IsURL(source) {
		return m.client.Get(ctx, source)
	}
	return version.FileLoader(ctx, source)
}

// Config returns the manager's configuration.
func (m *Manager) Config() ManagerConfig {
	return m.cfg
}

// cache returns the opened cache for dir, opening it on first use. Empty
// dir means the configured cache directory.
func (m *Manager) cache(ctx context.Context, dir string) (*artifact.Cache, error) {
	dir = cmp.Or(dir, m.cfg.CacheDir)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadState() == managerShuttingDown {
		return nil, ErrShuttingDown
	}
	if c, ok := m.caches[dir]; ok {
		return c, nil
	}
	c, err := artifact.Open(ctx, artifact.Config{Dir: dir, Logger: Logger()})
	if err != nil {
		return nil, err
	}
	m.caches[dir] = c
	return c, nil
}

// Start resolves, obtains and launches a server and waits until it is
// ready. On failure everything acquired so far is released and the error is
// a *StartError.
func (m *Manager) Start(ctx context.Context, sc StartConfig) (*Instance, error) {
	if m.loadState() == managerShuttingDown {
		return nil, ErrShuttingDown
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid start config: %w", err)
	}

	id := uuid.NewString()
	log := Logger().With("instance", id[:8])
	spec := cmp.Or(sc.Version, m.cfg.DefaultVersion)
	started := time.Now()

	binary, ver := sc.Binary, spec
	if binary == "" {
		d, err := m.resolver.Resolve(ctx, spec)
		if err != nil {
			return nil, &StartError{Version: spec, Stage: StageResolve, Err: err}
		}
		ver = d.Version
		entry, err := m.ensure(ctx, sc.CacheDir, d)
		if err != nil {
			return nil, &StartError{Version: ver, Stage: StageFetch, Err: err}
		}
		binary = entry.Binary
	}
	log = log.With("version", ver)

	dataDir, persistent, err := m.prepareDataDir(sc.DataDir, id)
	if err != nil {
		return nil, &StartError{Version: ver, Stage: StageDataDir, Err: err}
	}

	srv, err := server.StartWithRetry(ctx, server.Config{
		Binary:          binary,
		DataDir:         dataDir,
		StartTimeout:    cmp.Or(sc.StartTimeout, m.cfg.StartTimeout),
		PortRegistry:    m.ports,
		LogLevel:        m.cfg.LogLevel,
		Settings:        mergeSettings(m.cfg.Settings, sc.Settings),
		Output:          sc.Output,
		EarlyExitWindow: m.earlyExitWindow,
		Logger:          log,
	}, m.cfg.MaxPortRetries)
	if err != nil {
		if !persistent {
			removeDataDir(log, dataDir)
		}
		stage := StageLaunch
		if errors.Is(err, process.ErrReadinessTimeout) ||
			errors.Is(err, process.ErrProcessExited) ||
			errors.Is(err, process.ErrReadinessInterrupted) {
			stage = StageReady
		}
		startErr := &StartError{Version: ver, Stage: stage, Err: err}
		var attemptErr *server.AttemptError
		if errors.As(err, &attemptErr) {
			startErr.Ports = attemptErr.Ports.Slice()
		}
		return nil, startErr
	}

	inst := &Instance{
		id:          id,
		version:     ver,
		host:        server.DefaultHost,
		ports:       srv.Ports(),
		pid:         srv.Pid(),
		exited:      srv.Exited(),
		dataDir:     dataDir,
		persistent:  persistent,
		stopTimeout: cmp.Or(sc.StopTimeout, m.cfg.StopTimeout),
		srv:         srv,
		manager:     m,
		log:         log,
	}
	inst.state.Store(uint32(StateReady))

	if !m.track(inst) {
		// Shutdown began while the server was starting and has already
		// taken its snapshot of live instances.
		if err := inst.Stop(); err != nil {
			log.Warn("failed to stop instance started during shutdown", "error", err)
		}
		return nil, ErrShuttingDown
	}

	log.Info("clickhouse ready",
		"port", inst.ports.TCP,
		"http_port", inst.ports.HTTP,
		"pid", inst.pid,
		"elapsed", time.Since(started))
	return inst, nil
}

// ensure returns the cache entry for d, downloading it when missing.
func (m *Manager) ensure(ctx context.Context, cacheDir string, d version.Descriptor) (artifact.Entry, error) {
	c, err := m.cache(ctx, cacheDir)
	if err != nil {
		return artifact.Entry{}, err
	}
	return c.Ensure(ctx, d.Key, m.installFunc(d))
}

// installFunc downloads d into the staging directory. Archives are
// extracted below dist/ and removed afterwards.
func (m *Manager) installFunc(d version.Descriptor) artifact.InstallFunc {
	return func(ctx context.Context, staging string) (artifact.Marker, error) {
		ctx, cancel := context.WithTimeout(ctx, m.cfg.DownloadTimeout)
		defer cancel()

		log := Logger().With("version", d.Version, "key", d.Key)
		log.Info("downloading clickhouse", "url", d.URL)
		started := time.Now()

		req := fetch.Request{URL: d.URL, Checksum: d.Checksum, ChecksumURL: d.ChecksumURL}
		var (
			binary string
			res    fetch.Result
			err    error
		)
		switch d.Kind {
		case version.KindArchive:
			archive := filepath.Join(staging, "distribution.tgz")
			if res, err = m.client.Download(ctx, req, archive); err != nil {
				return artifact.Marker{}, err
			}
			dist := filepath.Join(staging, "dist")
			if err := fetch.Extract(archive, dist); err != nil {
				return artifact.Marker{}, err
			}
			if err := os.Remove(archive); err != nil {
				return artifact.Marker{}, fmt.Errorf("remove downloaded archive: %w", err)
			}
			found, err := fetch.FindBinary(dist)
			if err != nil {
				return artifact.Marker{}, err
			}
			if binary, err = filepath.Rel(staging, found); err != nil {
				return artifact.Marker{}, fmt.Errorf("locate binary: %w", err)
			}
		case version.KindBinary:
			binary = "clickhouse"
			if res, err = m.client.Download(ctx, req, filepath.Join(staging, binary)); err != nil {
				return artifact.Marker{}, err
			}
			if err := os.Chmod(filepath.Join(staging, binary), 0o755); err != nil {
				return artifact.Marker{}, fmt.Errorf("make binary executable: %w", err)
			}
		default:
			return artifact.Marker{}, fmt.Errorf("unknown distribution kind %v", d.Kind)
		}

		log.Info("clickhouse downloaded",
			"bytes", res.Size,
			"verified", res.Verified,
			"elapsed", time.Since(started))
		return artifact.Marker{
			Version:  d.Version,
			Platform: d.Platform.String(),
			Source:   artifact.SourceDownload,
			URL:      d.URL,
			SHA512:   res.SHA512,
			Binary:   binary,
		}, nil
	}
}

// prepareDataDir returns the directory for a new server and whether it is
// caller-owned and must survive Stop.
func (m *Manager) prepareDataDir(persistentDir, id string) (string, bool, error) {
	if persistentDir != "" {
		if err := fileutil.EnsureDir(persistentDir); err != nil {
			return "", false, err
		}
		return persistentDir, true, nil
	}
	dir, err := fileutil.MkdirUnique(m.cfg.BaseDataDir, "chenv-"+id[:8]+"-")
	if err != nil {
		return "", false, err
	}
	return dir, false, nil
}

func removeDataDir(log *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to remove data directory", "path", dir, "error", err)
	}
}

// mergeSettings returns base overlaid with override. Nil when both are
// empty.
func mergeSettings(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string, len(override))
	}
	maps.Copy(out, override)
	return out
}

// track registers inst unless Shutdown has begun.
func (m *Manager) track(inst *Instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadState() == managerShuttingDown {
		return false
	}
	m.live[inst] = struct{}{}
	return true
}

func (m *Manager) untrack(inst *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, inst)
}

// Live returns the instances that are started and not yet stopped.
func (m *Manager) Live() []*Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Collect(maps.Keys(m.live))
}

// IsShuttingDown reports whether Shutdown has been called.
func (m *Manager) IsShuttingDown() bool {
	return m.loadState() == managerShuttingDown
}

// Shutdown stops all live instances in parallel and closes the caches.
// Start and the cache operations return ErrShuttingDown afterwards. Safe to
// call multiple times; later calls find nothing left to stop.
func (m *Manager) Shutdown() error {
	m.state.Store(uint32(managerShuttingDown))

	live := m.Live()
	stopErrs := make([]error, len(live))
	var g errgroup.Group
	for idx, inst := range live {
		g.Go(func() error {
			stopErrs[idx] = inst.Stop()
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	caches := m.caches
	m.caches = make(map[string]*artifact.Cache)
	m.mu.Unlock()

	errs := stopErrs
	for dir, c := range caches {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

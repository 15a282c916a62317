package chenv

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/giantswarm/chenv/internal/core"
	"github.com/giantswarm/chenv/internal/fetch"
	"github.com/giantswarm/chenv/internal/process"
)

// The process-level manager. singletonMu guards both variables so tests
// can reset them while other goroutines call Start.
var (
	singletonMu   sync.Mutex
	singletonMgr  *managerWrapper
	singletonOnce sync.Once
)

var (
	_ Manager  = (*managerWrapper)(nil)
	_ Instance = (*instanceWrapper)(nil)
)

// managerWrapper adapts *core.Manager to Manager. The core manager sits in
// an unexported field so a type assertion on a Manager cannot reach core
// methods such as Live.
type managerWrapper struct {
	mgr *core.Manager
}

//nolint:ireturn // Manager is an interface.
func (w *managerWrapper) Start(ctx context.Context, opts ...StartOption) (Instance, error) {
	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	inst, err := w.mgr.Start(ctx, cfg.StartConfig)
	if err != nil {
		return nil, err
	}
	return &instanceWrapper{inst: inst}, nil
}

func (w *managerWrapper) Fetch(ctx context.Context, version string) (CacheEntry, error) {
	return w.mgr.Fetch(ctx, "", version)
}

func (w *managerWrapper) Versions(ctx context.Context) ([]VersionInfo, error) {
	return w.mgr.Versions(ctx)
}

func (w *managerWrapper) ListCache(ctx context.Context) ([]CacheEntry, error) {
	return w.mgr.ListCache(ctx, "")
}

func (w *managerWrapper) PruneCache(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return w.mgr.PruneCache(ctx, "", olderThan)
}

func (w *managerWrapper) ImportBinary(ctx context.Context, version, binary string) (CacheEntry, error) {
	return w.mgr.ImportBinary(ctx, "", version, binary)
}

func (w *managerWrapper) CacheDir() string {
	return w.mgr.Config().CacheDir
}

func (w *managerWrapper) Shutdown() error {
	return w.mgr.Shutdown()
}

// instanceWrapper adapts *core.Instance to Instance and hides Pid.
type instanceWrapper struct {
	inst *core.Instance
}

func (w *instanceWrapper) ID() string           { return w.inst.ID() }
func (w *instanceWrapper) Version() string      { return w.inst.Version() }
func (w *instanceWrapper) Host() string         { return w.inst.Host() }
func (w *instanceWrapper) Port() int            { return w.inst.Port() }
func (w *instanceWrapper) HTTPPort() int        { return w.inst.HTTPPort() }
func (w *instanceWrapper) InterserverPort() int { return w.inst.InterserverPort() }
func (w *instanceWrapper) TCPAddr() string      { return w.inst.TCPAddr() }
func (w *instanceWrapper) HTTPAddr() string     { return w.inst.HTTPAddr() }
func (w *instanceWrapper) DSN() string          { return w.inst.DSN() }
func (w *instanceWrapper) HTTPURL() string      { return w.inst.HTTPURL() }
func (w *instanceWrapper) DataDir() string      { return w.inst.DataDir() }
func (w *instanceWrapper) State() State         { return w.inst.State() }

func (w *instanceWrapper) Stop() error { return w.inst.Stop() }

// defaultManagerConfig is the configuration NewManager starts from before
// applying options.
func defaultManagerConfig() managerConfig {
	return managerConfig{core.ManagerConfig{
		CacheDir:        DefaultCacheDir(),
		BaseDataDir:     filepath.Join(os.TempDir(), DefaultBaseDataDirName),
		DefaultVersion:  DefaultVersion,
		BaseURL:         DefaultBaseURL,
		StartTimeout:    DefaultStartTimeout,
		StopTimeout:     DefaultStopTimeout,
		DownloadTimeout: DefaultDownloadTimeout,
		MaxPortRetries:  DefaultMaxPortRetries,
		Retry:           fetch.DefaultRetryPolicy(),
		LogLevel:        DefaultServerLogLevel,
	}}
}

// resetForTesting forgets the process-level manager without shutting it
// down.
func resetForTesting() {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	singletonMgr = nil
	singletonOnce = sync.Once{}
}

// NewManager creates the process-level Manager from opts and returns it.
// Later calls return the same Manager, ignore their options and log a
// warning. Package-level Start uses this Manager too, creating it with
// defaults when NewManager was never called. No I/O happens until Start or
// one of the cache operations.
//
// A Manager that was shut down stays shut down for the life of the process.
//
// Panics if an option receives an invalid value; see the With* functions.
//
//nolint:ireturn // Manager is an interface.
func NewManager(opts ...ManagerOption) Manager {
	return newManager(true, opts...)
}

func newManager(warnIfExists bool, opts ...ManagerOption) *managerWrapper {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	created := false
	singletonOnce.Do(func() {
		cfg := defaultManagerConfig()
		for _, opt := range opts {
			opt(&cfg)
		}
		singletonMgr = &managerWrapper{mgr: core.NewManagerWithConfig(cfg.toCoreConfig())}
		created = true
	})
	if !created && warnIfExists {
		core.Logger().Warn("NewManager called more than once; returning existing singleton (options ignored)")
	}
	return singletonMgr
}

// Start starts a server on the process-level Manager, creating it with
// default options if NewManager was not called yet.
//
//nolint:ireturn // Manager is an interface.
func Start(ctx context.Context, opts ...StartOption) (Instance, error) {
	return newManager(false).Start(ctx, opts...)
}

// Shutdown shuts the process-level Manager down if one was created.
func Shutdown() error {
	singletonMu.Lock()
	m := singletonMgr
	singletonMu.Unlock()
	if m == nil {
		return nil
	}
	return m.Shutdown()
}

// Cleanup force-kills every ClickHouse server this process started that is
// still running, regardless of which Manager owns it. It is the last-resort
// teardown for TestMain and signal handlers; prefer Stop and Shutdown.
func Cleanup() {
	process.KillAll()
}

// DisableSignalHook stops chenv from installing its SIGINT, SIGTERM and
// SIGHUP hook, which kills all servers and re-raises the signal. Call it
// before the first Start in programs that handle these signals themselves,
// and call Cleanup from the handler.
func DisableSignalHook() {
	process.SetSignalHook(false)
}

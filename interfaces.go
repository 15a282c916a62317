package chenv

import (
	"context"
	"time"

	"github.com/giantswarm/chenv/internal/core"
)

// Manager starts ClickHouse servers and manages the download cache.
//
// Callers must follow this lifecycle ordering:
//
//	NewManager → Start/Stop (repeatable) → Shutdown
//
// NewManager does no I/O. Shutdown is safe to call at any point.
type Manager interface {
	// Start resolves the version, obtains it from the cache or the
	// distribution, launches a server on free ports with a fresh data
	// directory and waits until it answers /ping.
	//
	// On failure every resource acquired so far is released and the error
	// is a *StartError. Returns ErrShuttingDown after Shutdown.
	Start(ctx context.Context, opts ...StartOption) (Instance, error)

	// Fetch downloads version into the cache without starting it. An empty
	// version means the default.
	Fetch(ctx context.Context, version string) (CacheEntry, error)

	// Versions lists the known versions for this platform, newest first.
	Versions(ctx context.Context) ([]VersionInfo, error)

	// ListCache lists the cached distributions, most recently used first.
	ListCache(ctx context.Context) ([]CacheEntry, error)

	// PruneCache removes cached distributions not used within olderThan
	// and returns their keys. Zero removes all that are not in use by an
	// install.
	PruneCache(ctx context.Context, olderThan time.Duration) ([]string, error)

	// ImportBinary stores a local ClickHouse executable as the cache entry
	// of version. An existing entry is returned unchanged.
	ImportBinary(ctx context.Context, version, binary string) (CacheEntry, error)

	// CacheDir returns the cache directory.
	CacheDir() string

	// Shutdown stops every running instance in parallel and closes the
	// cache. Returns the joined stop errors.
	Shutdown() error
}

// Instance is a running ClickHouse server.
type Instance interface {
	// ID returns a unique identifier for this instance.
	ID() string

	// Version returns the resolved ClickHouse version.
	Version() string

	// Host returns the loopback address the server listens on.
	Host() string

	// Port returns the native protocol port.
	Port() int

	// HTTPPort returns the HTTP interface port.
	HTTPPort() int

	// InterserverPort returns the inter-server port.
	InterserverPort() int

	// TCPAddr returns host:port of the native protocol.
	TCPAddr() string

	// HTTPAddr returns host:port of the HTTP interface.
	HTTPAddr() string

	// DSN returns clickhouse://host:port/default.
	DSN() string

	// HTTPURL returns http://host:port.
	HTTPURL() string

	// DataDir returns the server's data directory.
	DataDir() string

	// State returns the lifecycle state.
	State() State

	// Stop terminates the server, releases its ports and removes its data
	// directory unless it came from WithDataDir. It is idempotent; using
	// defer inst.Stop() is safe. Returns ErrShutdown only when the process
	// could not be reaped.
	Stop() error
}

// State is the lifecycle state of an Instance.
type State = core.State

// Instance states.
const (
	StateStarting = core.StateStarting
	StateReady    = core.StateReady
	StateStopping = core.StateStopping
	StateStopped  = core.StateStopped
	StateFailed   = core.StateFailed
)

// CacheEntry describes a cached ClickHouse distribution.
type CacheEntry = core.CacheEntry

// VersionInfo describes a known version.
type VersionInfo = core.VersionInfo

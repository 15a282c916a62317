package core

import (
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/chenv/internal/server"
)

// Instance is one running ClickHouse server started by a Manager. Its
// accessors are fixed at start and stay valid after Stop.
//
// Synchronization strategy:
//   - state is atomic for lock-free reads.
//   - stopMu serializes Stop; srv is only touched under it.
type Instance struct {
	id          string
	version     string
	host        string
	ports       server.Ports
	pid         int
	dataDir     string
	persistent  bool
	stopTimeout time.Duration

	// exited is closed when the server process exits for any reason.
	exited <-chan struct{}

	state atomic.Uint32

	stopMu sync.Mutex
	srv    *server.Server

	manager *Manager
	log     *slog.Logger
}

// ID returns the instance's unique identifier.
func (i *Instance) ID() string {
	return i.id
}

// Version returns the resolved ClickHouse version. It is the caller's
// version string when the instance runs an explicit binary.
func (i *Instance) Version() string {
	return i.version
}

// Host returns the address the server listens on.
func (i *Instance) Host() string {
	return i.host
}

// Port returns the native protocol port.
func (i *Instance) Port() int {
	return i.ports.TCP
}

// HTTPPort returns the HTTP interface port.
func (i *Instance) HTTPPort() int {
	return i.ports.HTTP
}

// InterserverPort returns the inter-server replication port.
func (i *Instance) InterserverPort() int {
	return i.ports.Interserver
}

// TCPAddr returns host:port of the native protocol.
func (i *Instance) TCPAddr() string {
	return net.JoinHostPort(i.host, strconv.Itoa(i.ports.TCP))
}

// HTTPAddr returns host:port of the HTTP interface.
func (i *Instance) HTTPAddr() string {
	return net.JoinHostPort(i.host, strconv.Itoa(i.ports.HTTP))
}

// DSN returns a clickhouse:// connection string for the default database.
func (i *Instance) DSN() string {
	return "clickhouse://" + i.TCPAddr() + "/default"
}

// HTTPURL returns the base URL of the HTTP interface.
func (i *Instance) HTTPURL() string {
	return "http://" + i.HTTPAddr()
}

// DataDir returns the server's data directory.
func (i *Instance) DataDir() string {
	return i.dataDir
}

// Pid returns the server process id.
func (i *Instance) Pid() int {
	return i.pid
}

// State returns the lifecycle state. A Ready instance whose process died
// reports Failed.
func (i *Instance) State() State {
	s := State(i.state.Load())
	if s == StateReady && i.processGone() {
		return StateFailed
	}
	return s
}

func (i *Instance) processGone() bool {
	select {
	case <-i.exited:
		return true
	default:
		return false
	}
}

// Stop terminates the server, releases its ports and removes its data
// directory unless it was caller-provided. It is idempotent and a no-op on
// stopped or failed instances. The only error is process.ErrShutdown, when
// the process could not be reaped; the instance is then Failed.
func (i *Instance) Stop() error {
	i.stopMu.Lock()
	defer i.stopMu.Unlock()

	if State(i.state.Load()) != StateReady {
		return nil
	}
	died := i.processGone()
	i.state.Store(uint32(StateStopping))
	defer i.manager.untrack(i)

	if err := i.srv.Stop(i.stopTimeout); err != nil {
		i.state.Store(uint32(StateFailed))
		i.log.Error("clickhouse could not be reaped", "pid", i.pid, "error", err)
		return err
	}
	if !i.persistent {
		removeDataDir(i.log, i.dataDir)
	}

	if died {
		i.log.Warn("clickhouse had exited before stop", "pid", i.pid)
		i.state.Store(uint32(StateFailed))
		return nil
	}
	i.state.Store(uint32(StateStopped))
	i.log.Debug("clickhouse stopped", "pid", i.pid)
	return nil
}

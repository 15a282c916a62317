package netutil

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/giantswarm/chenv/internal/sentinel"
	"k8s.io/apimachinery/pkg/util/sets"
)

// ErrPortAllocation is returned when free ports cannot be obtained.
const ErrPortAllocation = sentinel.Error("port allocation failed")

// maxPortRetries bounds how often a single slot asks the kernel again after
// it returned a port that is already claimed.
const maxPortRetries = 20

// PortRegistry tracks ports claimed by live servers of this process.
// One registry is shared by every instance a Manager starts.
type PortRegistry struct {
	mu      sync.Mutex
	claimed sets.Set[int]
	log     *slog.Logger
}

// NewPortRegistry creates an empty registry. A nil logger falls back to
// slog.Default().
func NewPortRegistry(logger *slog.Logger) *PortRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortRegistry{claimed: sets.New[int](), log: logger}
}

// claim registers port and reports whether it was free in the registry.
func (r *PortRegistry) claim(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed.Has(port) {
		return false
	}
	r.claimed.Insert(port)
	return true
}

// Release returns ports to the pool. Unknown ports are ignored.
func (r *PortRegistry) Release(ports ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed.Delete(ports...)
}

// Claimed reports whether port is currently held by this registry.
func (r *PortRegistry) Claimed(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimed.Has(port)
}

// Len returns the number of claimed ports.
func (r *PortRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimed.Len()
}

// listenUnclaimed binds an ephemeral loopback port that is not yet claimed
// and claims it. The returned listener must be closed by the caller.
func (r *PortRegistry) listenUnclaimed() (*net.TCPListener, int, error) {
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}

	for range maxPortRetries {
		l, err := net.ListenTCP("tcp", addr)
		if err != nil {
			return nil, 0, fmt.Errorf("listen on %s: %w", addr, err)
		}
		port := l.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // ListenTCP always yields *TCPAddr
		if r.claim(port) {
			return l, port, nil
		}
		r.log.Debug("kernel returned a claimed port, retrying", "port", port)
		_ = l.Close()
	}
	return nil, 0, fmt.Errorf("exhausted %d attempts to find an unclaimed port", maxPortRetries)
}

// Allocate returns count distinct free ports in allocation order. All
// listeners stay open until every slot is bound, then they are closed so the
// server can bind the ports. Callers must Release the ports when done.
func (r *PortRegistry) Allocate(count int) ([]int, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1, got %d", ErrPortAllocation, count)
	}

	listeners := make([]*net.TCPListener, 0, count)
	ports := make([]int, 0, count)
	closeAll := func() {
		for i, l := range listeners {
			if err := l.Close(); err != nil {
				r.log.Warn("close probe listener", "port", ports[i], "error", err)
			}
		}
	}

	for range count {
		l, port, err := r.listenUnclaimed()
		if err != nil {
			// Close before Release so no other goroutine can be handed a
			// port that is still bound here.
			closeAll()
			r.Release(ports...)
			return nil, fmt.Errorf("%w: %w", ErrPortAllocation, err)
		}
		listeners = append(listeners, l)
		ports = append(ports, port)
	}

	closeAll()
	return ports, nil
}

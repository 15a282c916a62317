package process

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// registry holds every live Handle of this process.
var registry = struct {
	mu      sync.Mutex
	handles map[*Handle]struct{}
}{handles: make(map[*Handle]struct{})}

var (
	hookOnce     sync.Once
	hookDisabled atomic.Bool
)

func track(h *Handle) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.handles[h] = struct{}{}
}

func untrack(h *Handle) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.handles, h)
}

func snapshot() []*Handle {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make([]*Handle, 0, len(registry.handles))
	for h := range registry.handles {
		out = append(out, h)
	}
	return out
}

// Tracked returns the number of live handles.
func Tracked() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.handles)
}

// KillAll sends SIGKILL to every tracked process and reaps it. Safe to call
// concurrently with Terminate on the same handles and from signal handlers.
func KillAll() {
	var wg sync.WaitGroup
	for _, h := range snapshot() {
		wg.Go(h.kill)
	}
	wg.Wait()
}

// SetSignalHook enables or disables the exit hook. Programs that handle
// SIGINT and SIGTERM themselves, such as the chenv CLI, disable it before
// the first Launch and call KillAll on their own.
func SetSignalHook(enabled bool) {
	hookDisabled.Store(!enabled)
}

// installSignalHook starts, once per process, a goroutine that kills all
// tracked servers on SIGINT, SIGTERM or SIGHUP and then re-raises the signal
// with the default disposition so the program exits as it would have.
func installSignalHook() {
	if hookDisabled.Load() {
		return
	}
	hookOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		go func() {
			sig := <-ch
			slog.Default().Warn("received signal, killing database servers",
				"component", "chenv", "signal", sig.String(), "servers", Tracked())
			KillAll()
			signal.Reset(os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			if self, err := os.FindProcess(os.Getpid()); err == nil {
				_ = self.Signal(sig)
			}
		}()
	})
}

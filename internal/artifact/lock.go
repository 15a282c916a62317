package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// fileLockRetryInterval is the polling interval while another process holds
// an install lock.
const fileLockRetryInterval = 50 * time.Millisecond

// acquireFileLock blocks until the exclusive lock at lockPath is held or ctx
// ends.
func acquireFileLock(ctx context.Context, lockPath string) (*flock.Flock, error) {
	fl := flock.New(lockPath)

	locked, err := fl.TryLockContext(ctx, fileLockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquire file lock %s: %w", lockPath, err)
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire file lock %s: %w", lockPath, ctx.Err())
		}
		return nil, fmt.Errorf("acquire file lock %s: lock not acquired", lockPath)
	}
	return fl, nil
}

// tryFileLock takes the lock only if it is free right now.
func tryFileLock(lockPath string) (*flock.Flock, bool, error) {
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("try file lock %s: %w", lockPath, err)
	}
	if !locked {
		_ = fl.Close()
		return nil, false, nil
	}
	return fl, true, nil
}

// releaseFileLock unlocks and closes fl. The lock file stays on disk;
// removing it could split a lock another process is about to take.
func releaseFileLock(logger *slog.Logger, fl *flock.Flock) {
	if fl != nil {
		if err := fl.Close(); err != nil {
			logger.Debug("failed to release file lock", "path", fl.Path(), "error", err)
		}
	}
}

// keyLocks is an in-process per-key mutex that honours context
// cancellation. It keeps goroutines of one process from busy-polling the
// file lock against each other.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func (k *keyLocks) lock(ctx context.Context, key string) error {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]chan struct{})
	}
	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *keyLocks) unlock(key string) {
	k.mu.Lock()
	ch := k.locks[key]
	k.mu.Unlock()
	<-ch
}

// tryLock takes the key lock only if it is free.
func (k *keyLocks) tryLock(key string) bool {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]chan struct{})
	}
	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

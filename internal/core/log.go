package core

import (
	"log/slog"
	"sync/atomic"
)

// logger is the package-level logger used by chenv. Named "logger" instead of
// "log" to avoid shadowing the stdlib "log" package.
//
// A nil value means no custom logger has been set; Logger() falls back to a
// cached default derived from slog.Default().
var logger atomic.Pointer[slog.Logger]

// defaultLogger caches slog.Default() with the chenv component attribute.
// If slog.SetDefault() is called after the first Logger() call, the cached
// logger does not follow; SetLogger(nil) clears the cache.
var defaultLogger atomic.Pointer[slog.Logger]

// Logger returns the current package-level logger. Without a SetLogger call
// it is slog.Default() with the chenv component attribute, created once.
// It is safe to call from multiple goroutines.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := newDefaultLogger()
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	// A concurrent SetLogger may have cleared the winner's value.
	if l2 := defaultLogger.Load(); l2 != nil {
		return l2
	}
	return l
}

func newDefaultLogger() *slog.Logger {
	return slog.Default().With("component", "chenv")
}

// SetLogger replaces the package-level logger. A nil l resets to the default,
// re-derived from slog.Default() on the next Logger() call.
//
// SetLogger is safe to call concurrently with other chenv operations.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
	defaultLogger.Store(nil)
}

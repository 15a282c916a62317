package chenv

import (
	"log/slog"

	"github.com/giantswarm/chenv/internal/core"
)

// SetLogger replaces the package-level logger used by chenv. The provided
// logger should already carry any desired attributes; chenv adds none.
//
// If l is nil, the logger resets to slog.Default() with a "component"
// attribute. Call SetLogger(nil) after slog.SetDefault() to pick up the new
// default.
//
// SetLogger is safe to call concurrently with other chenv operations, but
// a Manager keeps the logger it was created with for its download client
// and resolver. Call SetLogger before NewManager.
//
// Example:
//
//	chenv.SetLogger(myLogger.With("component", "chenv"))
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}

package chenv

import (
	"github.com/giantswarm/chenv/internal/core"
	"github.com/giantswarm/chenv/internal/fetch"
	"github.com/giantswarm/chenv/internal/netutil"
	"github.com/giantswarm/chenv/internal/process"
	"github.com/giantswarm/chenv/internal/server"
	"github.com/giantswarm/chenv/internal/version"
)

// Sentinel errors for error inspection with errors.Is.
// These are immutable constants safe for use in wrapped error chain comparison.
const (
	// ErrUnresolvableVersion is returned when a version is neither known
	// nor an archive URL.
	ErrUnresolvableVersion = version.ErrUnresolvableVersion

	// ErrUnsupportedPlatform is returned when no ClickHouse build exists for
	// the host OS and architecture.
	ErrUnsupportedPlatform = version.ErrUnsupportedPlatform

	// ErrTransientFetch marks download failures that were retried and still
	// failed: timeouts, resets, HTTP 408, 429 and 5xx.
	ErrTransientFetch = fetch.ErrTransientFetch

	// ErrPermanentFetch marks download failures that are not retried, such
	// as HTTP 404.
	ErrPermanentFetch = fetch.ErrPermanentFetch

	// ErrIntegrity is returned when a download does not match its checksum.
	// Nothing is cached.
	ErrIntegrity = fetch.ErrIntegrity

	// ErrArchive is returned for malformed or unsafe archives.
	ErrArchive = fetch.ErrArchive

	// ErrPortAllocation is returned when free ports cannot be obtained.
	ErrPortAllocation = netutil.ErrPortAllocation

	// ErrLaunch is returned when the server exits right after launch or
	// cannot be executed at all.
	ErrLaunch = process.ErrLaunch

	// ErrProcessExited is returned when the server exits before it is ready.
	ErrProcessExited = process.ErrProcessExited

	// ErrReadinessTimeout is returned when the server is not ready within
	// the start timeout.
	ErrReadinessTimeout = process.ErrReadinessTimeout

	// ErrReadinessInterrupted is returned when the caller's context ends
	// while waiting for the server. The context error is wrapped too.
	ErrReadinessInterrupted = process.ErrReadinessInterrupted

	// ErrShutdown is returned by Stop when the server process could not be
	// reaped.
	ErrShutdown = process.ErrShutdown

	// ErrInvalidSettingKey is returned for setting keys that are not of the
	// form [a-zA-Z][a-zA-Z0-9_]*.
	ErrInvalidSettingKey = server.ErrInvalidSettingKey

	// ErrReservedSetting is returned for setting keys chenv writes itself,
	// such as tcp_port or path.
	ErrReservedSetting = server.ErrReservedSetting

	// ErrPortConflict is returned when every port retry lost the race for a
	// port.
	ErrPortConflict = server.ErrPortConflict

	// ErrShuttingDown is returned by Start once Shutdown was called.
	ErrShuttingDown = core.ErrShuttingDown

	// ErrBinaryPathRequired is returned by ImportBinary without a binary.
	ErrBinaryPathRequired = core.ErrBinaryPathRequired
)

// StartError describes a failed Start: the version, the stage that failed
// and the ports of the last launch attempt. It unwraps to the cause.
// Everything the start acquired is released before it is returned.
//
//	var startErr *chenv.StartError
//	if errors.As(err, &startErr) && startErr.Stage == chenv.StageFetch { ... }
type StartError = core.StartError

// Stage names the step of Start that failed.
type Stage = core.Stage

// Start stages, in order.
const (
	StageResolve = core.StageResolve
	StageFetch   = core.StageFetch
	StageDataDir = core.StageDataDir
	StageLaunch  = core.StageLaunch
	StageReady   = core.StageReady
)

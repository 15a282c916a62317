package core

import (
	"fmt"

	"github.com/giantswarm/chenv/internal/sentinel"
)

// ErrShuttingDown is returned by Start and Fetch once Shutdown was called.
const ErrShuttingDown = sentinel.Error("manager is shutting down")

// Stage names the step of Start that failed.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageFetch   Stage = "fetch"
	StageDataDir Stage = "data-dir"
	StageLaunch  Stage = "launch"
	StageReady   Stage = "ready"
)

// StartError describes a failed Start. Everything the start acquired has
// been released by the time it is returned.
type StartError struct {
	Version string
	Stage   Stage
	// Ports are the ports of the last launch attempt, nil when the start
	// failed before allocating any.
	Ports []int
	Err   error
}

func (e *StartError) Error() string {
	v := e.Version
	if v == "" {
		v = "clickhouse"
	}
	return fmt.Sprintf("start %s: %s: %v", v, e.Stage, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

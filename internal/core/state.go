package core

import "fmt"

// State is the lifecycle state of an Instance.
//
//	Starting -> Ready -> Stopping -> Stopped
//
// Failed is terminal and reachable from Starting, Ready and Stopping.
type State uint32

const (
	StateStarting State = iota
	StateReady
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

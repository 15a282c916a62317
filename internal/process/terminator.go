package process

import "time"

// Terminator is anything stopped with a grace period.
type Terminator interface {
	Terminate(grace time.Duration) error
}

// TerminateAndNil terminates *p and sets it to nil, even when Terminate
// fails. Nil p or *p is a no-op.
//
// P is constrained to *E so the nil check needs no reflection; callers never
// spell out E.
func TerminateAndNil[P interface {
	*E
	Terminator
}, E any](p *P, grace time.Duration) error {
	if p == nil || *p == nil {
		return nil
	}
	defer func() { *p = nil }()
	return (*p).Terminate(grace)
}

// Package process supervises ClickHouse child processes.
//
// Launch starts a binary with its stdout and stderr captured to log files in
// the instance data directory and exactly one goroutine calling cmd.Wait.
// Terminate escalates from SIGTERM to SIGKILL and always reaps the child.
// Every live Handle is tracked in a process-wide registry; KillAll and the
// signal hook installed by the first Launch use it to make sure no server
// outlives an interrupted test binary.
//
// WaitReady is the polling loop shared by readiness probes.
package process

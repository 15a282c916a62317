//go:build unix

package process

import "golang.org/x/sys/unix"

// Alive reports whether a process with pid exists (signal 0 probe). A zombie
// still counts as alive until it is reaped.
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

//go:build !unix

package process

import "os"

// Alive reports whether a process with pid can be found.
func Alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

//go:build linux

package process

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureSysProcAttr makes the kernel send SIGKILL to the server when the
// thread that started it dies, so a test binary killed with SIGKILL does not
// leave ClickHouse running.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: unix.SIGKILL,
	}
}

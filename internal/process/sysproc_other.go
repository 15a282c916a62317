//go:build !linux

package process

import "os/exec"

// Pdeathsig is Linux only.
func configureSysProcAttr(_ *exec.Cmd) {}

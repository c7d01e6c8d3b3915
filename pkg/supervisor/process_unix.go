//go:build linux || darwin

package supervisor

import (
	"os/exec"
	"syscall"
)

// processGroupAttr starts the subprocess in its own process group so
// terminateProcessGroup can signal it and any children it spawns together.
func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup signals the negative PID, which on POSIX targets
// the whole process group rather than just the direct child.
func terminateProcessGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, sig)
}

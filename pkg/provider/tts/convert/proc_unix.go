//go:build unix

package convert

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts cmd in its own process group and makes context
// cancellation kill every process in it.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

//go:build unix

package dispatch

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the renderer in its own group so a timeout also kills
// the browser processes it forks.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

//go:build unix

package bridge

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the worker in its own process group and makes
// context cancellation SIGKILL the whole group, so helpers the worker forked
// die with it and cannot hold the output pipes open.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

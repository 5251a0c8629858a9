//go:build linux

package launcher

import (
	"os/exec"
	"syscall"
)

// killAfterParent makes the kernel kill the browser when cdpboot dies.
func killAfterParent(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}

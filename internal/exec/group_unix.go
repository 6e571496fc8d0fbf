//go:build !windows

package exec

import (
	osexec "os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// killGroupOnCancel starts cmd in its own process group and kills the whole
// group when the context is cancelled, so children of a shell hook die too.
func killGroupOnCancel(cmd *osexec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}

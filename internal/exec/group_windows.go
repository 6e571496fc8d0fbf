//go:build windows

package exec

import osexec "os/exec"

func killGroupOnCancel(cmd *osexec.Cmd) {}

//go:build unix

package supervisor

import (
	"os/exec"
	"syscall"
)

// detach puts the worker in its own process group so terminal signals sent
// to the daemon do not reach it directly.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interrupt(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
}

//go:build !unix

package supervisor

import "os/exec"

func detach(*exec.Cmd) {}

func interrupt(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

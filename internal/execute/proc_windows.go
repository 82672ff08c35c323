//go:build windows

package execute

import (
	"os"
	"os/exec"
)

func configureCommandProcess(cmd *exec.Cmd) {}

func terminateCommandProcess(cmd *exec.Cmd) bool {
	return killCommandProcess(cmd)
}

func killCommandProcess(cmd *exec.Cmd) bool {
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return cmd.Process.Kill() == nil
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}

//go:build !windows

package execute

import (
	"os"
	"os/exec"
	"syscall"
)

// configureCommandProcess starts the child in its own process group so a
// timeout reaches everything it spawned.
func configureCommandProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateCommandProcess and killCommandProcess report whether the child
// was still there to be signalled.
func terminateCommandProcess(cmd *exec.Cmd) bool {
	return signalCommandProcess(cmd, syscall.SIGTERM)
}

func killCommandProcess(cmd *exec.Cmd) bool {
	return signalCommandProcess(cmd, syscall.SIGKILL)
}

// signalCommandProcess signals the child through its process handle first,
// which fails with os.ErrProcessDone once Wait has reaped it, so a recycled
// pid is never hit. Only then is the rest of its group signalled.
func signalCommandProcess(cmd *exec.Cmd, sig syscall.Signal) bool {
	if cmd == nil || cmd.Process == nil || cmd.Process.Pid <= 0 {
		return false
	}
	if err := cmd.Process.Signal(sig); err != nil {
		return false
	}
	// The child leads its own group, so its pid is the group id.
	_ = syscall.Kill(-cmd.Process.Pid, sig)
	return true
}

// exitStatus reports signal deaths as the negated signal number.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

//go:build unix

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setupProcessGroup runs the runner in its own process group so a kill
// reaches anything it spawned.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup sends SIGKILL to the runner's group and to the runner.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// classify fills the exit fields of out from a reaped process.
func classify(state *os.ProcessState, out *Outcome) {
	if state == nil {
		return
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		out.ExitCode = state.ExitCode()
		out.Success = state.Success()
		return
	}
	if ws.Signaled() {
		out.Signal = int(ws.Signal())
		out.ExitCode = -1
		return
	}
	out.ExitCode = ws.ExitStatus()
	out.Success = out.ExitCode == 0
}

// Alive reports whether a process with pid still exists.
func Alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

//go:build !unix

package supervisor

import (
	"errors"
	"os"
	"os/exec"
)

func setupProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func classify(state *os.ProcessState, out *Outcome) {
	if state == nil {
		return
	}
	out.ExitCode = state.ExitCode()
	out.Success = state.Success()
}

// Alive reports whether a process with pid still exists.
func Alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

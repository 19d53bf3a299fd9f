//go:build unix

package backend

import (
	"errors"
	"log/slog"
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child the leader of a new process group so the
// whole tree (python and anything it forks) can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func terminateProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

func killProcessGroup(pid int) {
	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		slog.Warn("Failed to kill process group", "pid", pid, "error", err)
	}
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err != nil {
		// Fall back to the leader alone when the group signal is refused.
		if perr := syscall.Kill(pid, sig); perr != nil && !errors.Is(perr, syscall.ESRCH) {
			return err
		}
	}
	return nil
}

//go:build !unix

package backend

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func terminateProcessGroup(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}

func killProcessGroup(pid int) {
	_ = terminateProcessGroup(pid)
}

//go:build !unix

package piper

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func terminateProcess(cmd *exec.Cmd) error {
	return killProcess(cmd)
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func isExecutable(os.FileInfo) bool {
	return true
}

//go:build windows

package tracer

import (
	"errors"
	"os"
	"os/exec"
)

func setDetached(cmd *exec.Cmd) {}

func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

package tracer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	clog "github.com/xrsl/skipper/pkg/log"
)

// Supervisor starts observer processes that outlive the caller and stops
// them again from a later process, knowing only their pid.
type Supervisor interface {
	Start(ctx context.Context, name string, args []string) (int, error)
	Stop(ctx context.Context, pid int, privileged bool) error
}

// ExecSupervisor runs observers as detached OS processes.
type ExecSupervisor struct {
	// DiagPath receives the observer's stdout and stderr.
	DiagPath string
	// Settle is how long Start watches the process before trusting it.
	Settle time.Duration
	// StopTimeout bounds how long Stop waits for the process to exit.
	StopTimeout time.Duration
}

func (s *ExecSupervisor) Start(ctx context.Context, name string, args []string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(s.DiagPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create tracer directory: %w", err)
	}
	diag, err := os.OpenFile(s.DiagPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open tracer diagnostics: %w", err)
	}
	defer func() { _ = diag.Close() }()

	// not CommandContext: the observer must survive this process
	cmd := exec.Command(name, args...)
	cmd.Stdout = diag
	cmd.Stderr = diag
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	clog.Debug("observer started", "pid", pid, "cmd", name+" "+strings.Join(args, " "))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(s.Settle)
	defer timer.Stop()
	select {
	case err := <-done:
		return 0, fmt.Errorf("%s exited during startup (%v), see %s", name, err, s.DiagPath)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return 0, ctx.Err()
	case <-timer.C:
	}
	return pid, nil
}

func (s *ExecSupervisor) Stop(ctx context.Context, pid int, privileged bool) error {
	if pid <= 0 {
		return nil
	}
	if privileged {
		out, err := exec.CommandContext(ctx, "sudo", "-n", "kill", "-TERM", strconv.Itoa(pid)).CombinedOutput()
		if err != nil && !strings.Contains(string(out), "No such process") {
			return fmt.Errorf("failed to stop tracer %d: %w: %s", pid, err, strings.TrimSpace(string(out)))
		}
	} else if err := terminate(pid); err != nil {
		return fmt.Errorf("failed to stop tracer %d: %w", pid, err)
	}
	return s.waitGone(ctx, pid)
}

func (s *ExecSupervisor) waitGone(ctx context.Context, pid int) error {
	deadline := time.Now().Add(s.StopTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for alive(pid) {
		if time.Now().After(deadline) {
			return fmt.Errorf("tracer %d still running after %s", pid, s.StopTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Package tracer records which files a job opens while it runs.
//
// Phase 1 starts a detached observer (strace attached to the runner worker,
// or an inotify watch of the checkout) writing to a log file. Phase 2 stops
// it by pid and reduces the log to a usage set.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	clog "github.com/xrsl/skipper/pkg/log"
	"github.com/xrsl/skipper/pkg/usage"
)

const (
	BackendStrace  = "strace"
	BackendInotify = "inotify"
)

// ErrNoLog is returned by Usage when the observer left no log behind.
var ErrNoLog = errors.New("trace log not found")

// Handle identifies a running observer.
type Handle struct {
	PID     int
	Backend string
}

type Options struct {
	Backend string
	// Sudo runs strace through sudo -n, which ptrace on hosted runners needs.
	Sudo bool
	// Target is a command line substring locating the process to trace.
	Target string
	// PID overrides Target.
	PID     int
	Workdir string
	LogPath string
	// Exclude lists directories never recorded besides the log directory.
	Exclude     []string
	Settle      time.Duration
	StopTimeout time.Duration
	// Executable is the skipper binary, which hosts the inotify observer.
	Executable string
	// ProcRoot defaults to /proc.
	ProcRoot string
}

type Tracer struct {
	opts Options
	sup  Supervisor
}

// New returns a tracer running observers through an ExecSupervisor.
func New(opts Options) *Tracer {
	opts = withDefaults(opts)
	sup := &ExecSupervisor{
		DiagPath:    opts.LogPath + ".diag",
		Settle:      opts.Settle,
		StopTimeout: opts.StopTimeout,
	}
	return NewWithSupervisor(opts, sup)
}

func NewWithSupervisor(opts Options, sup Supervisor) *Tracer {
	return &Tracer{opts: withDefaults(opts), sup: sup}
}

func withDefaults(opts Options) Options {
	if opts.Backend == "" {
		opts.Backend = BackendStrace
	}
	if opts.ProcRoot == "" {
		opts.ProcRoot = "/proc"
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return opts
}

// Command returns the observer command line for the configured backend.
func (t *Tracer) Command() (string, []string, error) {
	switch t.opts.Backend {
	case BackendStrace:
		pid, err := FindTarget(t.opts.ProcRoot, t.opts.Target, t.opts.PID)
		if err != nil {
			return "", nil, err
		}
		args := straceArgs(t.opts.LogPath, pid)
		if t.opts.Sudo {
			return "sudo", append([]string{"-n", "strace"}, args...), nil
		}
		return "strace", args, nil
	case BackendInotify:
		exe := t.opts.Executable
		if exe == "" {
			var err error
			if exe, err = os.Executable(); err != nil {
				return "", nil, fmt.Errorf("cannot locate skipper binary: %w", err)
			}
		}
		args := []string{"trace", "inotify", "--root", t.opts.Workdir, "--output", t.opts.LogPath}
		for _, d := range t.exclude() {
			args = append(args, "--exclude", d)
		}
		return exe, args, nil
	default:
		return "", nil, fmt.Errorf("unknown tracer backend %q", t.opts.Backend)
	}
}

// Start launches the observer and returns once it has survived startup.
func (t *Tracer) Start(ctx context.Context) (Handle, error) {
	name, args, err := t.Command()
	if err != nil {
		return Handle{}, err
	}
	if err := os.MkdirAll(filepath.Dir(t.opts.LogPath), 0o755); err != nil {
		return Handle{}, fmt.Errorf("failed to create trace log directory: %w", err)
	}
	if err := os.Remove(t.opts.LogPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Handle{}, fmt.Errorf("failed to clear old trace log: %w", err)
	}
	pid, err := t.sup.Start(ctx, name, args)
	if err != nil {
		return Handle{}, err
	}
	clog.Info("tracer started", "backend", t.opts.Backend, "pid", pid)
	return Handle{PID: pid, Backend: t.opts.Backend}, nil
}

// Stop terminates the observer. A process that already exited is not an error.
func (t *Tracer) Stop(ctx context.Context, h Handle) error {
	privileged := t.opts.Sudo && backendOf(h, t.opts) == BackendStrace
	return t.sup.Stop(ctx, h.PID, privileged)
}

// Usage parses the log left by the observer of h.
func (t *Tracer) Usage(h Handle) (usage.Set, error) {
	f, err := os.Open(t.opts.LogPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoLog
		}
		return nil, fmt.Errorf("failed to open trace log: %w", err)
	}
	defer func() { _ = f.Close() }()

	parser, err := ParserFor(backendOf(h, t.opts))
	if err != nil {
		return nil, err
	}
	events, issues, err := parser.Parse(f)
	if err != nil {
		return nil, err
	}
	set, more := Collect(events, CollectOptions{Workdir: t.opts.Workdir, Exclude: t.exclude()})
	for _, is := range append(issues, more...) {
		clog.Warn("skipped trace entry", "issue", is.String())
	}
	clog.Debug("trace parsed", "events", len(events), "files", set.Len())
	return set, nil
}

func (t *Tracer) exclude() []string {
	return append([]string{filepath.Dir(t.opts.LogPath)}, t.opts.Exclude...)
}

func backendOf(h Handle, opts Options) string {
	if h.Backend != "" {
		return h.Backend
	}
	return opts.Backend
}

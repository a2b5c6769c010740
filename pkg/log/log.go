package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/sethvargo/go-githubactions"
)

var (
	// logger is the global logger instance
	logger atomic.Pointer[slog.Logger]
	// level controls the log level
	level = new(slog.LevelVar)
	// output is where the text handler writes
	output atomic.Pointer[io.Writer]
	// annotations receives workflow commands for warnings and errors, if set
	annotations atomic.Pointer[githubactions.Action]
)

func init() {
	// Info by default: a CI step should say why it skipped or ran
	level.Set(slog.LevelInfo)
	var w io.Writer = os.Stderr
	output.Store(&w)
	rebuild()
}

func rebuild() {
	var h slog.Handler = slog.NewTextHandler(*output.Load(), &slog.HandlerOptions{
		Level: level,
	})
	if a := annotations.Load(); a != nil {
		h = &annotationHandler{Handler: h, action: a}
	}
	logger.Store(slog.New(h))
}

// SetVerbose enables debug logging
func SetVerbose(verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// SetQuiet disables all logging except errors
func SetQuiet(quiet bool) {
	if quiet {
		level.Set(slog.LevelError)
	}
}

// SetOutput changes the log output destination
func SetOutput(w io.Writer) {
	output.Store(&w)
	rebuild()
}

// SetAnnotations mirrors warnings and errors as workflow commands written to w.
// A nil writer turns annotations off.
func SetAnnotations(w io.Writer) {
	if w == nil {
		annotations.Store(nil)
	} else {
		annotations.Store(githubactions.New(githubactions.WithWriter(w)))
	}
	rebuild()
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	logger.Load().Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	logger.Load().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	logger.Load().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	logger.Load().Error(msg, args...)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return logger.Load().With(args...)
}

// annotationHandler forwards every record to the wrapped handler and, for
// warnings and errors, also emits ::warning:: / ::error:: commands.
type annotationHandler struct {
	slog.Handler
	action *githubactions.Action
	attrs  []slog.Attr
}

func (h *annotationHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		msg := formatAnnotation(r, h.attrs)
		if r.Level >= slog.LevelError {
			h.action.Errorf("%s", msg)
		} else {
			h.action.Warningf("%s", msg)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *annotationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &annotationHandler{Handler: h.Handler.WithAttrs(attrs), action: h.action, attrs: merged}
}

func (h *annotationHandler) WithGroup(name string) slog.Handler {
	return &annotationHandler{Handler: h.Handler.WithGroup(name), action: h.action, attrs: h.attrs}
}

func formatAnnotation(r slog.Record, attrs []slog.Attr) string {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	}
	for _, a := range attrs {
		write(a)
	}
	r.Attrs(write)
	return b.String()
}

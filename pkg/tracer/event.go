package tracer

import (
	"fmt"
	"io"
)

// Event is one file access reported by an observer.
type Event struct {
	Line int
	PID  int
	Op   string
	// DirFD is the raw directory argument of *at syscalls ("AT_FDCWD", "3").
	DirFD string
	// Dir is the directory strace annotated DirFD with, if any.
	Dir   string
	Path  string
	Flags string
	// Resolved is the absolute path of the returned descriptor, if annotated.
	Resolved string
	// Err is the errno name of a failed call.
	Err        string
	Unfinished bool
}

// Issue is a log line that looked relevant but could not be used.
type Issue struct {
	Line   int
	Text   string
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d: %s: %s", i.Line, i.Reason, i.Text)
}

// Parser turns an observer log into events. Lines that are not file accesses
// are dropped; lines that are, but cannot be decoded, become issues.
type Parser interface {
	Parse(r io.Reader) ([]Event, []Issue, error)
}

// ParserFor returns the log parser of a tracer backend.
func ParserFor(backend string) (Parser, error) {
	switch backend {
	case BackendStrace:
		return StraceParser{}, nil
	case BackendInotify:
		return PlainParser{}, nil
	default:
		return nil, fmt.Errorf("unknown tracer backend %q", backend)
	}
}

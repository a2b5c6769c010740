package engine

import (
	"fmt"
	"strings"
)

// Inconclusive is a step that could not reach a verdict. All inconclusive
// steps fold to "run". Fatal ones still fail the step after the output is
// written, so a broken decision is not hidden.
type Inconclusive struct {
	Reason string
	Err    error
	Fatal  bool
}

func (i *Inconclusive) Error() string {
	if i.Err == nil {
		return i.Reason
	}
	return fmt.Sprintf("%s: %v", i.Reason, i.Err)
}

func (i *Inconclusive) Unwrap() error {
	return i.Err
}

// Decision is the outcome of phase 1.
type Decision struct {
	Skip   bool
	Reason string

	Key            string
	PreviousKey    string
	PreviousCommit string
	Changed        []string
	Additions      []string
	Matched        []string

	// Inconclusive is set when the verdict was forced to run by a failed step.
	Inconclusive *Inconclusive
	// Tracing is set when a tracer was started for this run.
	Tracing bool
}

// Fatal reports whether the decision step should be reported as failed.
func (d Decision) Fatal() bool {
	return d.Inconclusive != nil && d.Inconclusive.Fatal
}

func run(d Decision, format string, args ...any) Decision {
	d.Skip = false
	d.Reason = fmt.Sprintf(format, args...)
	return d
}

// fold is the single place where an inconclusive step becomes a verdict.
func fold(d Decision, inc *Inconclusive) Decision {
	if inc == nil {
		return d
	}
	d.Skip = false
	d.Reason = inc.Reason
	d.Inconclusive = inc
	return d
}

func summarize(paths []string, limit int) string {
	if len(paths) <= limit {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(paths[:limit], ", "), len(paths)-limit)
}

package tracer

import (
	"path/filepath"
	"strings"

	"github.com/xrsl/skipper/pkg/usage"
	"github.com/xrsl/skipper/pkg/utils"
)

// CollectOptions bounds which accesses count as the job's own.
type CollectOptions struct {
	// Workdir is the repository checkout. Only paths inside it are kept,
	// stored relative to it.
	Workdir string
	// Exclude lists absolute directories whose contents are never kept,
	// such as the directory holding the trace log itself.
	Exclude []string
}

// Collect reduces events to the set of repository files the job opened.
func Collect(events []Event, opts CollectOptions) (usage.Set, []Issue) {
	set := usage.New()
	var issues []Issue
	for _, ev := range events {
		if strings.Contains(ev.Flags, "O_DIRECTORY") {
			continue
		}
		abs, reason := resolve(ev, opts.Workdir)
		if reason != "" {
			issues = append(issues, Issue{Line: ev.Line, Text: ev.Path, Reason: reason})
			continue
		}
		if excluded(abs, opts.Exclude) {
			continue
		}
		rel, ok := utils.RelativeTo(opts.Workdir, abs)
		if !ok || inGitDir(rel) {
			continue
		}
		set.Add(filepath.ToSlash(rel))
	}
	return set, issues
}

// resolve returns the absolute path an event refers to, or why it cannot.
// The descriptor path strace reports for the result wins; relative paths are
// joined to the directory annotation, or to the working directory for plain
// open and an unannotated AT_FDCWD. A relative call that never completed has
// no result to say where it landed, so it is not guessed.
func resolve(ev Event, workdir string) (string, string) {
	switch {
	case ev.Resolved != "" && filepath.IsAbs(ev.Resolved):
		return filepath.Clean(ev.Resolved), ""
	case filepath.IsAbs(ev.Path):
		return filepath.Clean(ev.Path), ""
	case ev.Dir != "":
		return filepath.Join(ev.Dir, ev.Path), ""
	case ev.Unfinished:
		return "", "relative call never resumed"
	case ev.DirFD == "" || ev.DirFD == "AT_FDCWD":
		return filepath.Join(workdir, ev.Path), ""
	default:
		return "", "relative to unknown directory " + ev.DirFD
	}
}

func excluded(abs string, dirs []string) bool {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if filepath.Clean(d) == filepath.Clean(abs) {
			return true
		}
		if _, ok := utils.RelativeTo(d, abs); ok {
			return true
		}
	}
	return false
}

func inGitDir(rel string) bool {
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first == ".git"
}

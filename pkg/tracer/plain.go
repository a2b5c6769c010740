package tracer

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// PlainParser reads logs holding one absolute path per line, as written by
// the inotify observer.
type PlainParser struct{}

func (PlainParser) Parse(r io.Reader) ([]Event, []Issue, error) {
	var (
		events []Event
		issues []Issue
	)
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if !filepath.IsAbs(line) {
			issues = append(issues, Issue{Line: n, Text: line, Reason: "path is not absolute"})
			continue
		}
		events = append(events, Event{Line: n, Op: "open", Path: line})
	}
	if err := sc.Err(); err != nil {
		return events, issues, fmt.Errorf("failed to read trace log: %w", err)
	}
	return events, issues, nil
}

// Package usage holds the set of repository files a job execution read.
//
// On disk a set is a newline-delimited list of repository-relative paths,
// sorted so that identical sets produce identical cache artifacts.
package usage

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xrsl/skipper/pkg/utils"
)

// Set is a deduplicated, unordered set of file paths.
type Set map[string]struct{}

// New returns a set holding paths. Empty strings are ignored.
func New(paths ...string) Set {
	s := make(Set, len(paths))
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

func (s Set) Add(path string) {
	if path == "" {
		return
	}
	s[path] = struct{}{}
}

func (s Set) Has(path string) bool {
	_, ok := s[path]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Intersect returns the paths that are members of s, in input order, without duplicates.
func (s Set) Intersect(paths []string) []string {
	var hits []string
	seen := make(map[string]bool)
	for _, p := range paths {
		if s.Has(p) && !seen[p] {
			seen[p] = true
			hits = append(hits, p)
		}
	}
	return hits
}

// Read loads a set from a newline-delimited file. Blank lines and trailing
// carriage returns are ignored.
func Read(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := New()
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.Add(strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage set %s: %w", path, err)
	}
	return s, nil
}

// Write stores the set at path, one member per line.
func (s Set) Write(path string) error {
	var buf bytes.Buffer
	for _, p := range s.Sorted() {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	if err := utils.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write usage set %s: %w", path, err)
	}
	return nil
}

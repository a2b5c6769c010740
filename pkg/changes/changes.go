// Package changes resolves the files that differ between two commits.
package changes

import (
	"context"
	"sort"
)

// Status is the per-file change status reported by a comparison.
type Status string

const (
	StatusAdded     Status = "added"
	StatusModified  Status = "modified"
	StatusRemoved   Status = "removed"
	StatusRenamed   Status = "renamed"
	StatusCopied    Status = "copied"
	StatusChanged   Status = "changed"
	StatusUnchanged Status = "unchanged"
)

// FileChange is one entry of a comparison.
type FileChange struct {
	Path   string
	Status Status
	// PreviousPath is set for renames.
	PreviousPath string
}

// ChangeSet is the result of comparing base with head.
type ChangeSet struct {
	Base  string
	Head  string
	Files []FileChange
}

// HasAdditions reports whether any file was added. A new file cannot be in a
// previous run's usage set, so additions are never safe to skip over.
func (c ChangeSet) HasAdditions() bool {
	for _, f := range c.Files {
		if f.Status == StatusAdded {
			return true
		}
	}
	return false
}

// Additions returns the paths of added files.
func (c ChangeSet) Additions() []string {
	var out []string
	for _, f := range c.Files {
		if f.Status == StatusAdded {
			out = append(out, f.Path)
		}
	}
	return out
}

// Paths returns every path touched by a non-addition change, including the
// old side of renames, sorted and deduplicated.
func (c ChangeSet) Paths() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, f := range c.Files {
		if f.Status == StatusAdded || f.Status == StatusUnchanged {
			continue
		}
		add(f.Path)
		add(f.PreviousPath)
	}
	sort.Strings(out)
	return out
}

// Resolver compares two commits.
type Resolver interface {
	Compare(ctx context.Context, base, head string) (ChangeSet, error)
}

package engine

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMissingIdentity = errors.New("execution identity incomplete")

// Identity names one job execution. The fields are opaque strings supplied by
// the environment and are only used to build cache keys.
type Identity struct {
	Workflow string
	Branch   string
	Commit   string
}

// Validate reports which fields are missing.
func (id Identity) Validate() error {
	var missing []string
	if id.Commit == "" {
		missing = append(missing, "commit")
	}
	if id.Branch == "" {
		missing = append(missing, "branch")
	}
	if id.Workflow == "" {
		missing = append(missing, "workflow")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", ErrMissingIdentity, strings.Join(missing, ", "))
	}
	return nil
}

// Key is the exact cache key for this execution's usage set.
func (id Identity) Key() string {
	return id.Workflow + "-" + id.Branch + "-" + id.Commit
}

// RestorePrefixes lists the lookup prefixes, most specific first.
func (id Identity) RestorePrefixes() []string {
	return []string{
		id.Workflow + "-" + id.Branch + "-",
		id.Workflow + "-",
	}
}

// CommitFromKey returns the trailing segment of key, the commit the entry
// was saved for.
func CommitFromKey(key string) (string, bool) {
	i := strings.LastIndex(key, "-")
	if i < 0 || i == len(key)-1 {
		return "", false
	}
	return key[i+1:], true
}

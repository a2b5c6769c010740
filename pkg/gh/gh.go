// Package gh provides an interface for GitHub CLI operations
package gh

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CLI defines the interface for GitHub CLI operations
type CLI interface {
	// API performs an authenticated GET against a REST endpoint such as
	// "repos/{owner}/{repo}/compare/{base}...{head}" and returns the body.
	API(ctx context.Context, endpoint string) ([]byte, error)
}

// DefaultCLI implements CLI using the gh command
type DefaultCLI struct {
	token string
}

// New returns a DefaultCLI. A non-empty token is passed to gh as GH_TOKEN;
// otherwise gh uses its own authentication.
func New(token string) *DefaultCLI {
	return &DefaultCLI{token: token}
}

// Available reports whether the gh binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("gh")
	return err == nil
}

// API executes `gh api <endpoint>`
func (c *DefaultCLI) API(ctx context.Context, endpoint string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", "api",
		"-H", "Accept: application/vnd.github+json",
		"-H", "X-GitHub-Api-Version: 2022-11-28",
		endpoint)
	cmd.Env = os.Environ()
	if c.token != "" {
		cmd.Env = append(cmd.Env, "GH_TOKEN="+c.token)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, &APIError{Endpoint: endpoint, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return out, nil
}

// APIError carries gh's diagnostic output for a failed call.
type APIError struct {
	Endpoint string
	Stderr   string
	Err      error
}

func (e *APIError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("gh api %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("gh api %s failed: %v: %s", e.Endpoint, e.Err, e.Stderr)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient reports whether gh's output points at a rate limit or a server
// side failure worth retrying.
func (e *APIError) Transient() bool {
	s := strings.ToLower(e.Stderr)
	for _, marker := range []string{"rate limit", "http 500", "http 502", "http 503", "http 504", "timeout"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// SplitRepo splits "owner/name" into its parts.
func SplitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q (want owner/name)", repo)
	}
	return owner, name, nil
}

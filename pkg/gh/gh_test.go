package gh

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	cli := New("token")
	if cli == nil {
		t.Fatal("expected non-nil CLI")
	}
	var _ CLI = cli
}

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		repo      string
		owner     string
		name      string
		wantError bool
	}{
		{repo: "octo/hello", owner: "octo", name: "hello"},
		{repo: "octo", wantError: true},
		{repo: "/hello", wantError: true},
		{repo: "octo/", wantError: true},
		{repo: "octo/hello/extra", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			owner, name, err := SplitRepo(tt.repo)
			if (err != nil) != tt.wantError {
				t.Fatalf("SplitRepo(%q) error = %v, wantError %v", tt.repo, err, tt.wantError)
			}
			if owner != tt.owner || name != tt.name {
				t.Errorf("SplitRepo(%q) = (%q, %q), want (%q, %q)", tt.repo, owner, name, tt.owner, tt.name)
			}
		})
	}
}

func TestAPIError(t *testing.T) {
	base := errors.New("exit status 1")
	err := &APIError{Endpoint: "repos/o/r/compare/a...b", Stderr: "gh: API rate limit exceeded (HTTP 403)", Err: base}

	if !errors.Is(err, base) {
		t.Error("APIError should unwrap to the exec error")
	}
	if !err.Transient() {
		t.Error("rate limit should be transient")
	}
	if (&APIError{Stderr: "gh: Not Found (HTTP 404)", Err: base}).Transient() {
		t.Error("404 should not be transient")
	}
	if got := (&APIError{Endpoint: "x", Err: base}).Error(); got != "gh api x failed: exit status 1" {
		t.Errorf("unexpected message %q", got)
	}
}

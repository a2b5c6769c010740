package changes

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xrsl/skipper/pkg/gh"
	"github.com/xrsl/skipper/pkg/retry"
)

type fakeCLI struct {
	bodies    []string
	errs      []error
	endpoints []string
}

func (f *fakeCLI) API(ctx context.Context, endpoint string) ([]byte, error) {
	i := len(f.endpoints)
	f.endpoints = append(f.endpoints, endpoint)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	return []byte(f.bodies[i]), nil
}

func newTestResolver(t *testing.T, cli gh.CLI) *GitHubResolver {
	t.Helper()
	r, err := NewGitHubResolver(cli, "octo/hello")
	if err != nil {
		t.Fatalf("NewGitHubResolver failed: %v", err)
	}
	r.retry = retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return r
}

func TestGitHubCompare(t *testing.T) {
	cli := &fakeCLI{bodies: []string{`{
		"status": "ahead",
		"files": [
			{"filename": "c.txt", "status": "modified"},
			{"filename": "docs/new.md", "status": "added"},
			{"filename": "lib/b.rb", "status": "renamed", "previous_filename": "lib/a.rb"}
		]
	}`}}
	r := newTestResolver(t, cli)

	cs, err := r.Compare(context.Background(), "abc", "def")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if cli.endpoints[0] != "repos/octo/hello/compare/abc...def" {
		t.Errorf("unexpected endpoint %q", cli.endpoints[0])
	}
	if len(cs.Files) != 3 || !cs.HasAdditions() {
		t.Fatalf("unexpected change set %+v", cs)
	}
	if cs.Files[2].PreviousPath != "lib/a.rb" {
		t.Errorf("rename source not captured: %+v", cs.Files[2])
	}
}

func TestGitHubCompareNoFiles(t *testing.T) {
	r := newTestResolver(t, &fakeCLI{bodies: []string{`{"status": "identical", "files": []}`}})
	cs, err := r.Compare(context.Background(), "abc", "abc")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if len(cs.Files) != 0 {
		t.Errorf("expected no files, got %+v", cs.Files)
	}
}

func TestGitHubCompareBaseAheadOfHead(t *testing.T) {
	cli := &fakeCLI{bodies: []string{
		`{"status": "behind", "files": []}`,
		`{"status": "ahead", "files": [
			{"filename": "a.txt", "status": "modified"},
			{"filename": "new.txt", "status": "added"},
			{"filename": "gone.txt", "status": "removed"},
			{"filename": "b2.txt", "status": "renamed", "previous_filename": "b1.txt"}
		]}`,
	}}
	r := newTestResolver(t, cli)

	cs, err := r.Compare(context.Background(), "c9", "c4")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if len(cli.endpoints) != 2 || cli.endpoints[1] != "repos/octo/hello/compare/c4...c9" {
		t.Fatalf("expected the reverse comparison, got %v", cli.endpoints)
	}
	if got, want := cs.Paths(), []string{"a.txt", "b1.txt", "b2.txt", "new.txt"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Paths = %v, want %v", got, want)
	}
	// present at head, absent at base
	if got, want := cs.Additions(), []string{"gone.txt"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Additions = %v, want %v", got, want)
	}
}

func TestGitHubCompareDiverged(t *testing.T) {
	cli := &fakeCLI{bodies: []string{
		`{"status": "diverged", "files": [{"filename": "x.txt", "status": "modified"}]}`,
		`{"status": "diverged", "files": [{"filename": "a.txt", "status": "modified"}]}`,
	}}
	r := newTestResolver(t, cli)

	cs, err := r.Compare(context.Background(), "feature", "main")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if got, want := cs.Paths(), []string{"a.txt", "x.txt"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Paths = %v, want %v", got, want)
	}
}

func TestGitHubCompareStatus(t *testing.T) {
	tests := []struct {
		status  string
		calls   int
		wantErr bool
	}{
		{"ahead", 1, false},
		{"identical", 1, false},
		{"behind", 2, false},
		{"diverged", 2, false},
		{"", 1, true},
		{"sideways", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			body := fmt.Sprintf(`{"status": %q, "files": []}`, tt.status)
			cli := &fakeCLI{bodies: []string{body, `{"status": "ahead", "files": []}`}}
			_, err := newTestResolver(t, cli).Compare(context.Background(), "a", "b")
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(cli.endpoints) != tt.calls {
				t.Errorf("calls = %d, want %d", len(cli.endpoints), tt.calls)
			}
		})
	}
}

func TestGitHubCompareTruncated(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"files": [`)
	for i := 0; i < compareFileLimit; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"filename": "f%d.txt", "status": "modified"}`, i)
	}
	b.WriteString(`]}`)

	r := newTestResolver(t, &fakeCLI{bodies: []string{b.String()}})
	if _, err := r.Compare(context.Background(), "a", "b"); err == nil {
		t.Error("a file list at the API limit must not be trusted")
	}
}

func TestGitHubCompareRetriesTransient(t *testing.T) {
	transient := &gh.APIError{Endpoint: "x", Stderr: "HTTP 502: Bad Gateway", Err: errors.New("exit status 1")}
	cli := &fakeCLI{
		errs:   []error{transient, nil},
		bodies: []string{"", `{"status": "ahead", "files": [{"filename": "a.txt", "status": "modified"}]}`},
	}
	r := newTestResolver(t, cli)

	cs, err := r.Compare(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if len(cli.endpoints) != 2 || len(cs.Files) != 1 {
		t.Errorf("expected one retry, got %d calls and %+v", len(cli.endpoints), cs)
	}
}

func TestGitHubCompareFailure(t *testing.T) {
	notFound := &gh.APIError{Endpoint: "x", Stderr: "gh: No commit found for SHA: abc (HTTP 404)", Err: errors.New("exit status 1")}
	cli := &fakeCLI{errs: []error{notFound}}
	r := newTestResolver(t, cli)

	_, err := r.Compare(context.Background(), "abc", "def")
	if !errors.Is(err, notFound) {
		t.Errorf("expected wrapped API error, got %v", err)
	}
	if len(cli.endpoints) != 1 {
		t.Errorf("non-transient errors must not be retried, got %d calls", len(cli.endpoints))
	}
}

func TestParseCompareFilesInvalid(t *testing.T) {
	if _, err := parseCompareFiles([]byte("<html>")); err == nil {
		t.Error("expected error for non-JSON body")
	}
	if _, err := parseCompareFiles([]byte(`{"files": [{"status": "added"}]}`)); err == nil {
		t.Error("expected error for file without filename")
	}
}

func TestNewGitHubResolverInvalidRepo(t *testing.T) {
	if _, err := NewGitHubResolver(&fakeCLI{}, "not-a-repo"); err == nil {
		t.Error("expected error for invalid repository")
	}
}

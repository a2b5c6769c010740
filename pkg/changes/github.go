package changes

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/xrsl/skipper/pkg/gh"
	clog "github.com/xrsl/skipper/pkg/log"
	"github.com/xrsl/skipper/pkg/retry"
)

// compareFileLimit is the most files the compare endpoint lists. A response
// at the limit may be truncated, so it cannot prove a file unchanged.
const compareFileLimit = 300

// GitHubResolver compares commits with the GitHub REST compare endpoint.
type GitHubResolver struct {
	cli   gh.CLI
	owner string
	repo  string
	retry retry.Config
}

// NewGitHubResolver returns a resolver for repository "owner/name".
func NewGitHubResolver(cli gh.CLI, repository string) (*GitHubResolver, error) {
	owner, repo, err := gh.SplitRepo(repository)
	if err != nil {
		return nil, err
	}
	return &GitHubResolver{cli: cli, owner: owner, repo: repo, retry: retry.DefaultConfig()}, nil
}

func (r *GitHubResolver) endpoint(base, head string) string {
	return fmt.Sprintf("repos/%s/%s/compare/%s...%s",
		url.PathEscape(r.owner), url.PathEscape(r.repo),
		url.PathEscape(base), url.PathEscape(head))
}

// Compare lists the files that differ between the trees of base and head.
//
// The endpoint compares head with the merge base of the two commits. That is
// the direct difference only when base is an ancestor of head. Otherwise
// (base is ahead of head after a force-push, or on another branch) the side
// from the merge base to base is fetched too and reversed, and the union of
// both sides is returned. A path can only differ between base and head if one
// side changed it, so the union never misses a change.
func (r *GitHubResolver) Compare(ctx context.Context, base, head string) (ChangeSet, error) {
	status, files, err := r.compare(ctx, base, head)
	if err != nil {
		return ChangeSet{}, err
	}
	switch status {
	case "ahead", "identical":
	case "behind", "diverged":
		clog.Debug("base is not an ancestor of head, comparing both sides", "status", status, "base", base, "head", head)
		_, baseSide, err := r.compare(ctx, head, base)
		if err != nil {
			return ChangeSet{}, err
		}
		for _, f := range baseSide {
			files = append(files, reverse(f))
		}
	default:
		return ChangeSet{}, fmt.Errorf("compare %s...%s: unexpected comparison status %q", base, head, status)
	}
	return ChangeSet{Base: base, Head: head, Files: files}, nil
}

func (r *GitHubResolver) compare(ctx context.Context, base, head string) (string, []FileChange, error) {
	endpoint := r.endpoint(base, head)
	body, err := retry.Do(ctx, r.retry, func() ([]byte, error) {
		out, err := r.cli.API(ctx, endpoint)
		var apiErr *gh.APIError
		if errors.As(err, &apiErr) && apiErr.Transient() {
			return nil, retry.Retryable(err)
		}
		return out, err
	})
	if err != nil {
		return "", nil, fmt.Errorf("compare %s...%s: %w", base, head, err)
	}

	files, err := parseCompareFiles(body)
	if err != nil {
		return "", nil, fmt.Errorf("compare %s...%s: %w", base, head, err)
	}
	if len(files) >= compareFileLimit {
		return "", nil, fmt.Errorf("compare %s...%s: file list reached the API limit of %d and may be truncated", base, head, compareFileLimit)
	}
	return gjson.GetBytes(body, "status").String(), files, nil
}

// reverse turns a change from the merge base to base into the change that
// takes base's version back to the merge base's.
func reverse(f FileChange) FileChange {
	switch f.Status {
	case StatusAdded, StatusCopied:
		return FileChange{Path: f.Path, Status: StatusRemoved}
	case StatusRemoved:
		return FileChange{Path: f.Path, Status: StatusAdded}
	case StatusRenamed:
		return FileChange{Path: f.PreviousPath, Status: StatusRenamed, PreviousPath: f.Path}
	default:
		return f
	}
}

func parseCompareFiles(body []byte) ([]FileChange, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid JSON in compare response")
	}
	doc := gjson.ParseBytes(body)
	filesField := doc.Get("files")
	if !filesField.Exists() {
		clog.Debug("compare response has no files field")
		return nil, nil
	}

	var files []FileChange
	var bad error
	filesField.ForEach(func(_, f gjson.Result) bool {
		name := f.Get("filename").String()
		if name == "" {
			bad = errors.New("compare response has a file without filename")
			return false
		}
		files = append(files, FileChange{
			Path:         name,
			Status:       Status(f.Get("status").String()),
			PreviousPath: f.Get("previous_filename").String(),
		})
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return files, nil
}

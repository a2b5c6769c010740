package changes

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// GitResolver compares commits in a local clone. Both commits must be present
// locally; shallow checkouts usually lack the base and make Compare fail.
type GitResolver struct {
	repoPath string
}

func NewGitResolver(repoPath string) *GitResolver {
	return &GitResolver{repoPath: repoPath}
}

func (r *GitResolver) Compare(ctx context.Context, base, head string) (ChangeSet, error) {
	repo, err := git.PlainOpenWithOptions(r.repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ChangeSet{}, fmt.Errorf("failed to open repository %s: %w", r.repoPath, err)
	}
	baseTree, err := treeAt(repo, base)
	if err != nil {
		return ChangeSet{}, err
	}
	headTree, err := treeAt(repo, head)
	if err != nil {
		return ChangeSet{}, err
	}

	diff, err := baseTree.DiffContext(ctx, headTree)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("failed to diff %s...%s: %w", base, head, err)
	}

	cs := ChangeSet{Base: base, Head: head}
	for _, ch := range diff {
		action, err := ch.Action()
		if err != nil {
			return ChangeSet{}, err
		}
		switch action {
		case merkletrie.Insert:
			cs.Files = append(cs.Files, FileChange{Path: ch.To.Name, Status: StatusAdded})
		case merkletrie.Delete:
			cs.Files = append(cs.Files, FileChange{Path: ch.From.Name, Status: StatusRemoved})
		case merkletrie.Modify:
			fc := FileChange{Path: ch.To.Name, Status: StatusModified}
			if ch.From.Name != ch.To.Name {
				fc.Status = StatusRenamed
				fc.PreviousPath = ch.From.Name
			}
			cs.Files = append(cs.Files, fc)
		}
	}
	return cs, nil
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", rev, err)
	}
	return commit.Tree()
}

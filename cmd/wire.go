package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"google.golang.org/api/option"

	"github.com/xrsl/skipper/pkg/cache"
	"github.com/xrsl/skipper/pkg/changes"
	"github.com/xrsl/skipper/pkg/config"
	"github.com/xrsl/skipper/pkg/engine"
	"github.com/xrsl/skipper/pkg/gh"
	clog "github.com/xrsl/skipper/pkg/log"
	"github.com/xrsl/skipper/pkg/state"
	"github.com/xrsl/skipper/pkg/tracer"
)

// buildEngine assembles the engine from configuration. Backends that cannot
// be constructed are replaced by ones that fail on use, so the decision
// still folds to "run" instead of aborting before an output is written.
func buildEngine(ctx context.Context, cfg *config.Config) *engine.Engine {
	return engine.New(engine.Options{
		Identity: engine.Identity{
			Workflow: cfg.Workflow,
			Branch:   cfg.Branch,
			Commit:   cfg.Commit,
		},
		UsagePath: cfg.UsageFile,
		Cache:     cache.New(newCacheBackend(ctx, cfg)),
		Changes:   newResolver(cfg),
		Tracer:    tracer.New(tracerOptions(cfg)),
		State:     state.NewFileStore(cfg.StateFile, cfg.RunID),
	})
}

func newCacheBackend(ctx context.Context, cfg *config.Config) cache.Backend {
	switch cfg.Cache.Backend {
	case "gcs":
		var opts []option.ClientOption
		if cfg.Cache.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Cache.CredentialsFile))
		}
		b, err := cache.NewGCSBackend(ctx, cfg.Cache.Bucket, cfg.Cache.Prefix, opts...)
		if err != nil {
			clog.Warn("gcs cache unavailable", "error", err)
			return unavailableBackend{err: err}
		}
		return b
	default:
		return cache.NewLocalBackend(cfg.Cache.Dir)
	}
}

func newResolver(cfg *config.Config) changes.Resolver {
	switch cfg.Changes.Backend {
	case "git":
		return changes.NewGitResolver(cfg.Changes.RepoPath)
	default:
		r, err := changes.NewGitHubResolver(gh.New(cfg.Token), cfg.Repository)
		if err != nil {
			return unavailableResolver{err: err}
		}
		return r
	}
}

func tracerOptions(cfg *config.Config) tracer.Options {
	exe, _ := os.Executable()
	return tracer.Options{
		Backend:     cfg.Tracer.Backend,
		Sudo:        cfg.Tracer.Sudo,
		Target:      cfg.Tracer.Target,
		PID:         cfg.Tracer.PID,
		Workdir:     cfg.Workdir,
		LogPath:     cfg.TraceLog,
		Exclude:     cfg.Tracer.Exclude,
		Settle:      cfg.Tracer.Settle,
		StopTimeout: cfg.Tracer.StopTimeout,
		Executable:  exe,
	}
}

type unavailableBackend struct {
	err error
}

func (b unavailableBackend) Name() string { return "unavailable" }

func (b unavailableBackend) List(ctx context.Context, prefix string) ([]cache.Entry, error) {
	return nil, b.err
}

func (b unavailableBackend) Get(ctx context.Context, e cache.Entry, w io.Writer) error {
	return b.err
}

func (b unavailableBackend) Put(ctx context.Context, key string, r io.Reader) (cache.Entry, error) {
	return cache.Entry{}, b.err
}

type unavailableResolver struct {
	err error
}

func (r unavailableResolver) Compare(ctx context.Context, base, head string) (changes.ChangeSet, error) {
	return changes.ChangeSet{}, fmt.Errorf("change resolver unavailable: %w", r.err)
}

var errNoConfig = errors.New("configuration unusable")

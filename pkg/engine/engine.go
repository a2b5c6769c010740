// Package engine decides whether a job can reuse its previous outcome.
//
// Phase 1 (Decide) restores the usage set recorded by an earlier run of the
// same workflow, compares that run's commit with the current one and skips
// only when no file the earlier run opened has changed. When the job runs, a
// tracer records what it opens. Phase 2 (Finish) stops the tracer and saves
// the new usage set under the current commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xrsl/skipper/pkg/cache"
	"github.com/xrsl/skipper/pkg/changes"
	clog "github.com/xrsl/skipper/pkg/log"
	"github.com/xrsl/skipper/pkg/state"
	"github.com/xrsl/skipper/pkg/tracer"
	"github.com/xrsl/skipper/pkg/usage"
)

// Cache stores usage sets across job executions.
type Cache interface {
	Restore(ctx context.Context, paths []string, primaryKey string, prefixes []string) (string, error)
	Save(ctx context.Context, paths []string, key string) (string, error)
}

// Tracer observes the job while it runs.
type Tracer interface {
	Start(ctx context.Context) (tracer.Handle, error)
	Stop(ctx context.Context, h tracer.Handle) error
	Usage(h tracer.Handle) (usage.Set, error)
}

type Options struct {
	Identity Identity
	// UsagePath is where the usage set is materialized for the cache.
	UsagePath string
	Cache     Cache
	Changes   changes.Resolver
	Tracer    Tracer
	State     state.Store
}

type Engine struct {
	id        Identity
	usagePath string
	cache     Cache
	changes   changes.Resolver
	tracer    Tracer
	state     state.Store
}

func New(opts Options) *Engine {
	return &Engine{
		id:        opts.Identity,
		usagePath: opts.UsagePath,
		cache:     opts.Cache,
		changes:   opts.Changes,
		tracer:    opts.Tracer,
		state:     opts.State,
	}
}

// IsPost reports whether phase 1 already ran for this job execution.
func (e *Engine) IsPost() (bool, error) {
	rec, err := e.state.Load()
	if err != nil {
		return false, err
	}
	return rec != nil && rec.IsPost, nil
}

// Decide runs phase 1. The returned decision is always usable: every failure
// along the way yields Skip=false.
func (e *Engine) Decide(ctx context.Context) Decision {
	rec := &state.Record{IsPost: true}
	if err := e.state.Save(rec); err != nil {
		clog.Warn("failed to persist phase state", "error", err)
	}

	if err := e.id.Validate(); err != nil {
		clog.Error("cannot decide", "error", err)
		return fold(Decision{}, &Inconclusive{Reason: "execution identity incomplete", Err: err})
	}

	d, inc := e.evaluate(ctx)
	d = fold(d, inc)
	switch {
	case inc == nil:
	case inc.Fatal:
		clog.Error(inc.Reason, "error", inc.Err)
	case inc.Err != nil:
		clog.Warn(inc.Reason, "error", inc.Err)
	default:
		clog.Warn(inc.Reason)
	}

	if d.Skip {
		clog.Info("skipping job", "reason", d.Reason, "previous", d.PreviousKey)
		return d
	}
	clog.Info("running job", "reason", d.Reason)
	d.Tracing = e.startTracer(ctx, rec)
	return d
}

func (e *Engine) evaluate(ctx context.Context) (Decision, *Inconclusive) {
	d := Decision{Key: e.id.Key()}
	prefixes := e.id.RestorePrefixes()

	matched, err := e.cache.Restore(ctx, []string{e.usagePath}, d.Key, prefixes)
	if err != nil {
		return d, &Inconclusive{Reason: "cache restore failed", Err: err}
	}
	if matched == "" {
		clog.Info("cache not found", "keys", strings.Join(append([]string{d.Key}, prefixes...), ", "))
		return run(d, "no previous run recorded"), nil
	}
	d.PreviousKey = matched

	prev, ok := CommitFromKey(matched)
	if !ok {
		return d, &Inconclusive{Reason: fmt.Sprintf("malformed cache key %q", matched)}
	}
	d.PreviousCommit = prev

	var cs changes.ChangeSet
	if prev == e.id.Commit {
		clog.Debug("previous run was for the same commit")
	} else {
		cs, err = e.changes.Compare(ctx, prev, e.id.Commit)
		if err != nil {
			return d, &Inconclusive{Reason: "comparing commits failed", Err: err, Fatal: true}
		}
	}
	d.Changed = cs.Paths()
	d.Additions = cs.Additions()
	clog.Debug("change set resolved", "base", prev, "changed", len(d.Changed), "added", len(d.Additions))

	if len(d.Additions) > 0 {
		return run(d, "files added since %s: %s", shortCommit(prev), summarize(d.Additions, 5)), nil
	}

	used, err := usage.Read(e.usagePath)
	if err != nil {
		return d, &Inconclusive{Reason: "restored usage set unreadable", Err: err, Fatal: true}
	}
	d.Matched = used.Intersect(d.Changed)
	if len(d.Matched) > 0 {
		return run(d, "used files changed since %s: %s", shortCommit(prev), summarize(d.Matched, 5)), nil
	}

	d.Skip = true
	d.Reason = fmt.Sprintf("none of the %d files used at %s changed", used.Len(), shortCommit(prev))
	return d, nil
}

func (e *Engine) startTracer(ctx context.Context, rec *state.Record) bool {
	if e.tracer == nil {
		return false
	}
	h, err := e.tracer.Start(ctx)
	if err != nil {
		clog.Warn("tracer not started, usage will not be recorded", "error", err)
		return false
	}
	rec.TracerPID = h.PID
	rec.TracerBackend = h.Backend
	rec.TracerStarted = time.Now().UTC()
	if err := e.state.Save(rec); err != nil {
		clog.Warn("failed to persist tracer handle, stopping tracer", "error", err)
		if err := e.tracer.Stop(ctx, h); err != nil {
			clog.Warn("failed to stop tracer", "pid", h.PID, "error", err)
		}
		return false
	}
	return true
}

// FinishResult describes what phase 2 did. Problems are collected as
// warnings; phase 2 never fails the job.
type FinishResult struct {
	Traced       bool
	Files        int
	SavedKey     string
	ArtifactID   string
	AlreadySaved bool
	Warnings     []string
}

func (r *FinishResult) warn(msg string, err error) {
	clog.Warn(msg, "error", err)
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

// Finish runs phase 2. Without a persisted tracer handle it does nothing, so
// calling it again is harmless.
func (e *Engine) Finish(ctx context.Context) FinishResult {
	var res FinishResult

	rec, err := e.state.Load()
	if err != nil {
		res.warn("failed to load phase state", err)
		return res
	}
	if !rec.HasTracer() || e.tracer == nil {
		clog.Info("no tracer running, nothing to record")
		return res
	}
	h := tracer.Handle{PID: rec.TracerPID, Backend: rec.TracerBackend}

	// Invalidate the handle before touching the process.
	rec.TracerPID = 0
	rec.TracerBackend = ""
	rec.TracerStarted = time.Time{}
	if err := e.state.Save(rec); err != nil {
		res.warn("failed to clear tracer handle", err)
	}

	if err := e.tracer.Stop(ctx, h); err != nil {
		res.warn("tracer did not stop, usage not saved", err)
		return res
	}

	set, err := e.tracer.Usage(h)
	if errors.Is(err, tracer.ErrNoLog) {
		clog.Info("tracer left no log, nothing to record")
		return res
	}
	if err != nil {
		res.warn("failed to read trace", err)
		return res
	}
	res.Traced = true
	res.Files = set.Len()
	if set.Len() == 0 {
		res.warn("usage not saved", errors.New("trace recorded no repository files"))
		return res
	}
	if err := set.Write(e.usagePath); err != nil {
		res.warn("failed to write usage set", err)
		return res
	}

	if err := e.id.Validate(); err != nil {
		res.warn("usage not saved", err)
		return res
	}
	key := e.id.Key()
	id, err := e.cache.Save(ctx, []string{e.usagePath}, key)
	switch {
	case errors.Is(err, cache.ErrKeyExists):
		clog.Info("usage already saved for this commit", "key", key)
		res.AlreadySaved = true
	case err != nil:
		res.warn("failed to save usage", err)
	default:
		res.SavedKey = key
		res.ArtifactID = id
		clog.Info("usage saved", "key", key, "files", res.Files)
	}
	return res
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

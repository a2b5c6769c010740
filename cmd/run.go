package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xrsl/skipper/pkg/action"
	"github.com/xrsl/skipper/pkg/config"
	"github.com/xrsl/skipper/pkg/engine"
	clog "github.com/xrsl/skipper/pkg/log"
	"github.com/xrsl/skipper/pkg/style"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run phase 1 or phase 2, whichever is due",
	Long: `Single entrypoint for a job: the first call in a job execution decides
whether to skip and starts tracing; the second call finishes.

Phases are told apart by the state file, scoped to GITHUB_RUN_ID.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rep := action.New(os.Stdout)
		cfg, err := config.Load()
		if err != nil {
			return failDecision(rep, err)
		}
		eng := buildEngine(cmd.Context(), cfg)
		post, err := eng.IsPost()
		if err != nil {
			clog.Warn("cannot read phase state, running phase 1", "error", err)
		}
		if post {
			return finish(cmd.Context(), eng, rep)
		}
		return decide(cmd.Context(), eng, rep)
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Phase 1: decide whether the job can be skipped",
	Long: `Restore the usage set of the previous run, compare its commit with the
current one and print skip=true when none of the used files changed.

When the job runs, a tracer is started to record the files it opens.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rep := action.New(os.Stdout)
		cfg, err := config.Load()
		if err != nil {
			return failDecision(rep, err)
		}
		return decide(cmd.Context(), buildEngine(cmd.Context(), cfg), rep)
	},
}

var finishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Phase 2: stop tracing and save the usage set",
	Long: `Stop the tracer started by decide, reduce its log to the files the job
read and save them under the current commit. Never fails the job.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rep := action.New(os.Stdout)
		cfg, err := config.Load()
		if err != nil {
			clog.Warn("usage not recorded", "error", err)
			return nil
		}
		return finish(cmd.Context(), buildEngine(cmd.Context(), cfg), rep)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(finishCmd)
}

func decide(ctx context.Context, eng *engine.Engine, rep *action.Reporter) error {
	d := eng.Decide(ctx)
	rep.SetSkip(d.Skip)
	rep.DecisionSummary(d)
	if !rep.InActions() {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", style.Arrow(), style.Verdict(d.Skip), d.Reason)
	}
	if d.Fatal() {
		return fmt.Errorf("decision failed: %w", d.Inconclusive)
	}
	return nil
}

// failDecision writes the fail-open verdict when nothing else could run.
func failDecision(rep *action.Reporter, err error) error {
	clog.Error("cannot decide", "error", err)
	rep.SetSkip(false)
	return fmt.Errorf("%w: %v", errNoConfig, err)
}

func finish(ctx context.Context, eng *engine.Engine, rep *action.Reporter) error {
	res := eng.Finish(ctx)
	rep.FinishSummary(res)
	if res.SavedKey != "" && !rep.InActions() {
		fmt.Fprintf(os.Stderr, "%s%s (%d files)\n", style.Success("Saved"), res.SavedKey, res.Files)
	}
	return nil
}

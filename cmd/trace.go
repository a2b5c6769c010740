package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xrsl/skipper/pkg/config"
	clog "github.com/xrsl/skipper/pkg/log"
	"github.com/xrsl/skipper/pkg/tracer"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect and run file access observers",
}

var (
	inotifyRoot    string
	inotifyOutput  string
	inotifyExclude []string
)

var traceInotifyCmd = &cobra.Command{
	Use:    "inotify",
	Short:  "Watch a directory tree and log accessed files",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.OpenFile(inotifyOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open output: %w", err)
		}
		defer f.Close()

		obs := &tracer.InotifyObserver{Root: inotifyRoot, Exclude: inotifyExclude, Out: f}
		return obs.Run(cmd.Context())
	},
}

var (
	parseBackend string
	parseWorkdir string
)

var traceParseCmd = &cobra.Command{
	Use:   "parse <log>",
	Short: "Print the usage set a trace log yields",
	Example: `  skipper trace parse $RUNNER_TEMP/skipper/trace.log
  skipper trace parse --backend inotify --workdir . trace.log`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if parseBackend == "" || parseWorkdir == "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if parseBackend == "" {
				parseBackend = cfg.Tracer.Backend
			}
			if parseWorkdir == "" {
				parseWorkdir = cfg.Workdir
			}
		}

		workdir, err := filepath.Abs(parseWorkdir)
		if err != nil {
			return err
		}
		parser, err := tracer.ParserFor(parseBackend)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		events, issues, err := parser.Parse(f)
		if err != nil {
			return err
		}
		set, more := tracer.Collect(events, tracer.CollectOptions{Workdir: workdir})
		for _, is := range append(issues, more...) {
			clog.Warn("skipped trace entry", "issue", is.String())
		}
		for _, p := range set.Sorted() {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	traceInotifyCmd.Flags().StringVar(&inotifyRoot, "root", ".", "Directory tree to watch")
	traceInotifyCmd.Flags().StringVar(&inotifyOutput, "output", "trace.log", "File receiving one path per line")
	traceInotifyCmd.Flags().StringSliceVar(&inotifyExclude, "exclude", nil, "Directories not to watch")

	traceParseCmd.Flags().StringVar(&parseBackend, "backend", "", "Log format: strace or inotify (default from config)")
	traceParseCmd.Flags().StringVar(&parseWorkdir, "workdir", "", "Repository root (default from config)")

	traceCmd.AddCommand(traceInotifyCmd)
	traceCmd.AddCommand(traceParseCmd)
	rootCmd.AddCommand(traceCmd)
}

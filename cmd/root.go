package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	clog "github.com/xrsl/skipper/pkg/log"
	"github.com/xrsl/skipper/pkg/signal"
	"github.com/xrsl/skipper/pkg/style"
)

var (
	quiet   bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "skipper",
	Short: "Skip CI jobs whose inputs did not change",
	Long: `skipper records which repository files a CI job reads and skips the
next run of that job when none of them changed.

Run it once at the start of a job and once at the end:
  skipper run    # phase 1: prints skip=true|false and starts tracing
  ...job steps, guarded by the skip output...
  skipper run    # phase 2: stops tracing and saves the usage set`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		clog.SetVerbose(verbose)
		clog.SetQuiet(quiet)
		if os.Getenv("GITHUB_ACTIONS") == "true" {
			clog.SetAnnotations(os.Stdout)
		}
	},
}

func Execute() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, cancel := signal.WithTermination(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	style.SetupHelp(rootCmd)

	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

package cmd

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"

	"github.com/xrsl/skipper/pkg/config"
	"github.com/xrsl/skipper/pkg/gh"
	"github.com/xrsl/skipper/pkg/style"
	"github.com/xrsl/skipper/pkg/utils"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that skipper can decide and trace on this runner",
	Long:  `Verify the identity environment, the change and cache backends and the tracer prerequisites.`,
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("%s %s\n\n", style.Arrow(), style.B("Checking skipper setup"))

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("%s %v\n", style.Fail(), err)
		return fmt.Errorf("setup issues detected")
	}

	if utils.FileExists(config.Path()) {
		fmt.Printf("%s config file %s\n", style.OK(), config.Path())
	} else {
		fmt.Printf("%s no %s, using environment and defaults\n", style.Arrow(), config.Path())
	}

	allGood := true
	check := func(ok bool, good, bad, hint string) {
		if ok {
			fmt.Printf("%s %s\n", style.OK(), good)
			return
		}
		fmt.Printf("%s %s\n", style.Fail(), bad)
		if hint != "" {
			fmt.Printf("  %s\n", hint)
		}
		allGood = false
	}

	// Identity
	for _, f := range []struct{ name, value, env string }{
		{"commit", cfg.Commit, "GITHUB_SHA"},
		{"branch", cfg.Branch, "GITHUB_REF"},
		{"workflow", cfg.Workflow, "GITHUB_WORKFLOW"},
	} {
		check(f.value != "", f.name+" is "+style.C(style.Cyan, f.value), f.name+" not set", "Set "+f.env+" or SKIPPER_"+strings.ToUpper(f.name))
	}

	// Change backend
	switch cfg.Changes.Backend {
	case "git":
		_, err := git.PlainOpenWithOptions(cfg.Changes.RepoPath, &git.PlainOpenOptions{DetectDotGit: true})
		check(err == nil, "git repository at "+cfg.Changes.RepoPath, fmt.Sprintf("cannot open repository: %v", err), "")
	default:
		check(gh.Available(), "gh installed", "gh is not installed", "Install: https://cli.github.com/")
		check(cfg.Repository != "", "repository is "+cfg.Repository, "repository not set", "Set GITHUB_REPOSITORY")
		if cfg.Token == "" {
			fmt.Printf("%s no token set, gh falls back to its own login\n", style.Warn())
		}
	}

	// Cache backend
	switch cfg.Cache.Backend {
	case "gcs":
		_, down := newCacheBackend(cmd.Context(), cfg).(unavailableBackend)
		check(!down, fmt.Sprintf("gcs cache gs://%s/%s", cfg.Cache.Bucket, cfg.Cache.Prefix), "gcs cache unavailable", "Check cache.bucket and cache.credentials_file")
	default:
		fmt.Printf("%s local cache at %s\n", style.OK(), cfg.Cache.Dir)
	}

	// Tracer
	if cfg.Tracer.Backend == "strace" {
		_, err := exec.LookPath("strace")
		check(err == nil, "strace installed", "strace is not installed", "Install: sudo apt-get install -y strace")
		if cfg.Tracer.Sudo {
			err := exec.Command("sudo", "-n", "true").Run()
			check(err == nil, "passwordless sudo available", "sudo -n failed", "Disable with SKIPPER_TRACER_SUDO=false if ptrace is allowed")
		}
	} else {
		fmt.Printf("%s inotify observer watching %s\n", style.OK(), cfg.Workdir)
	}

	fmt.Println()
	if !allGood {
		return fmt.Errorf("setup issues detected")
	}
	fmt.Printf("%s Setup OK\n", style.OK())
	return nil
}

package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5"

	"github.com/xrsl/skipper/pkg/config"
)

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stdout
	os.Stdout = w
	runErr := fn()
	os.Stdout = orig
	_ = w.Close()
	out, _ := io.ReadAll(r)
	return string(out), runErr
}

func TestDoctorGitInotify(t *testing.T) {
	dir := t.TempDir()
	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatalf("PlainInit failed: %v", err)
	}
	content := "changes:\n  backend: git\ntracer:\n  backend: inotify\n"
	if err := os.WriteFile(filepath.Join(dir, ".skipper.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GITHUB_SHA", "abc")
	t.Setenv("GITHUB_REF", "refs/heads/main")
	t.Setenv("GITHUB_WORKFLOW", "ci")
	t.Setenv("SKIPPER_WORKDIR", dir)
	t.Setenv("SKIPPER_CACHE_DIR", filepath.Join(dir, "cache"))
	config.ResetForTest(dir)
	t.Cleanup(func() { config.ResetForTest(t.TempDir()) })

	out, err := captureStdout(t, func() error { return runDoctor(doctorCmd, nil) })
	if err != nil {
		t.Fatalf("doctor reported issues: %v\n%s", err, out)
	}
	for _, want := range []string{
		"Checking skipper setup",
		"config file " + filepath.Join(dir, ".skipper.yaml"),
		"git repository at " + dir,
		"inotify observer watching " + dir,
		"Setup OK",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDoctorMissingIdentity(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GITHUB_SHA", "")
	t.Setenv("SKIPPER_COMMIT", "")
	t.Setenv("SKIPPER_TRACER_BACKEND", "inotify")
	t.Setenv("SKIPPER_CHANGES_BACKEND", "git")
	t.Setenv("SKIPPER_WORKDIR", dir)
	config.ResetForTest(dir)
	t.Cleanup(func() { config.ResetForTest(t.TempDir()) })

	out, err := captureStdout(t, func() error { return runDoctor(doctorCmd, nil) })
	if err == nil {
		t.Fatal("expected setup issues")
	}
	if !strings.Contains(out, "commit not set") || !strings.Contains(out, "SKIPPER_COMMIT") {
		t.Errorf("missing identity hint:\n%s", out)
	}
	if !strings.Contains(out, "no "+filepath.Join(dir, ".skipper.yaml")) {
		t.Errorf("missing config file note:\n%s", out)
	}
}

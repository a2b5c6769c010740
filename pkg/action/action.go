// Package action reports decisions to the workflow runner: the skip output,
// and a step summary.
package action

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sethvargo/go-githubactions"

	"github.com/xrsl/skipper/pkg/engine"
)

type Reporter struct {
	gha    *githubactions.Action
	getenv func(string) string
	stdout io.Writer
}

func New(stdout io.Writer) *Reporter {
	return NewWithEnv(os.Getenv, stdout)
}

func NewWithEnv(getenv func(string) string, stdout io.Writer) *Reporter {
	return &Reporter{
		gha:    githubactions.New(githubactions.WithGetenv(getenv), githubactions.WithWriter(stdout)),
		getenv: getenv,
		stdout: stdout,
	}
}

// InActions reports whether the process runs inside a GitHub Actions job.
func (r *Reporter) InActions() bool {
	return r.getenv("GITHUB_ACTIONS") == "true"
}

// SetSkip publishes the verdict as the step output "skip". Outside a runner
// it is printed as skip=<bool>.
func (r *Reporter) SetSkip(skip bool) {
	v := strconv.FormatBool(skip)
	if r.getenv("GITHUB_OUTPUT") != "" {
		r.gha.SetOutput("skip", v)
		return
	}
	fmt.Fprintf(r.stdout, "skip=%s\n", v)
}

// DecisionSummary appends the phase 1 outcome to the job summary.
func (r *Reporter) DecisionSummary(d engine.Decision) {
	if r.getenv("GITHUB_STEP_SUMMARY") == "" {
		return
	}
	r.gha.AddStepSummary(decisionMarkdown(d))
}

// FinishSummary appends the phase 2 outcome to the job summary.
func (r *Reporter) FinishSummary(res engine.FinishResult) {
	if r.getenv("GITHUB_STEP_SUMMARY") == "" || !res.Traced {
		return
	}
	r.gha.AddStepSummary(finishMarkdown(res))
}

func decisionMarkdown(d engine.Decision) string {
	var b strings.Builder
	verdict := "run"
	if d.Skip {
		verdict = "skip"
	}
	fmt.Fprintf(&b, "### skipper: %s\n\n", verdict)
	b.WriteString("| | |\n|---|---|\n")
	row(&b, "Reason", d.Reason)
	row(&b, "Cache key", code(d.Key))
	row(&b, "Restored from", code(d.PreviousKey))
	if d.PreviousKey != "" {
		row(&b, "Changed files", strconv.Itoa(len(d.Changed)))
	}
	if len(d.Additions) > 0 {
		row(&b, "Added files", codeList(d.Additions))
	}
	if len(d.Matched) > 0 {
		row(&b, "Used files changed", codeList(d.Matched))
	}
	if d.Inconclusive != nil && d.Inconclusive.Err != nil {
		row(&b, "Error", d.Inconclusive.Err.Error())
	}
	if !d.Skip {
		row(&b, "Tracing", strconv.FormatBool(d.Tracing))
	}
	return b.String()
}

func finishMarkdown(res engine.FinishResult) string {
	var b strings.Builder
	b.WriteString("### skipper: usage recorded\n\n")
	b.WriteString("| | |\n|---|---|\n")
	row(&b, "Files used", strconv.Itoa(res.Files))
	switch {
	case res.SavedKey != "":
		row(&b, "Saved as", code(res.SavedKey))
	case res.AlreadySaved:
		row(&b, "Saved as", "already saved for this commit")
	}
	for _, w := range res.Warnings {
		row(&b, "Warning", w)
	}
	return b.String()
}

func row(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "| %s | %s |\n", name, strings.ReplaceAll(value, "|", "\\|"))
}

func code(s string) string {
	if s == "" {
		return ""
	}
	return "`" + s + "`"
}

func codeList(paths []string) string {
	const limit = 10
	var parts []string
	for i, p := range paths {
		if i == limit {
			parts = append(parts, fmt.Sprintf("and %d more", len(paths)-limit))
			break
		}
		parts = append(parts, code(p))
	}
	return strings.Join(parts, ", ")
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/cgast/pagecheck/internal/runner"
	"github.com/cgast/pagecheck/pkg/history"
	"github.com/cgast/pagecheck/pkg/verify"
)

var (
	passLabel = color.New(color.FgGreen, color.Bold).SprintFunc()
	failLabel = color.New(color.FgRed, color.Bold).SprintFunc()
	skipLabel = color.New(color.FgYellow).SprintFunc()
	dim       = color.New(color.Faint).SprintFunc()
)

func printSummary(s runner.Summary) {
	writeSummary(color.Output, s)
}

// writeSummary prints one line per task, the failed expectations of each
// failed task, and a closing count.
func writeSummary(w io.Writer, s runner.Summary) {
	fmt.Fprintln(w)
	for _, o := range s.Outcomes {
		took := dim(o.Result.Duration.Round(time.Millisecond))
		if o.Passed() {
			fmt.Fprintf(w, "%s %s %s\n", passLabel("PASS"), o.Result.Task, took)
			for _, shot := range o.Result.Screenshots {
				fmt.Fprintf(w, "       %s %s\n", dim("screenshot"), shot)
			}
			continue
		}

		fmt.Fprintf(w, "%s %s %s\n", failLabel("FAIL"), o.Result.Task, took)
		writeFailure(w, o)
	}
	for _, name := range s.Skipped {
		fmt.Fprintf(w, "%s %s\n", skipLabel("SKIP"), name)
	}

	passed := len(s.Outcomes) - s.Failed()
	fmt.Fprintf(w, "\n%d passed, %d failed", passed, s.Failed())
	if len(s.Skipped) > 0 {
		fmt.Fprintf(w, ", %d skipped", len(s.Skipped))
	}
	fmt.Fprintf(w, " in %s\n", s.Duration.Round(time.Millisecond))
}

func writeFailure(w io.Writer, o runner.Outcome) {
	if verify.Kind(o.Err) != verify.KindMismatch {
		fmt.Fprintf(w, "       %s: %v\n", verify.Kind(o.Err), o.Err)
		return
	}
	for _, er := range o.Result.Failed() {
		fmt.Fprintf(w, "       %s %s\n", failLabel("x"), er.Message)
	}
	for _, shot := range o.Result.Screenshots {
		fmt.Fprintf(w, "       %s %s\n", dim("screenshot"), shot)
	}
}

func writeRecord(w io.Writer, rec history.Record) {
	label := passLabel("PASS")
	if rec.ErrorKind != "" {
		label = failLabel("FAIL")
	}
	fmt.Fprintf(w, "%s  %s  %-20s %s  %s\n",
		rec.ID,
		rec.RecordedAt.Local().Format("2006-01-02 15:04:05"),
		rec.Result.Task,
		label,
		dim(rec.Result.Duration.Round(time.Millisecond)),
	)
}

func writeChanges(w io.Writer, a, b history.Record, changes []history.Change) {
	fmt.Fprintf(w, "%s %s (%s)\n", dim("---"), a.ID, a.RecordedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "%s %s (%s)\n", dim("+++"), b.ID, b.RecordedAt.Local().Format(time.RFC3339))
	if len(changes) == 0 {
		fmt.Fprintln(w, "no changes")
		return
	}
	for _, c := range changes {
		line := c.String()
		switch c.Type {
		case history.ChangeAdded:
			line = color.GreenString(line)
		case history.ChangeRemoved:
			line = color.RedString(line)
		default:
			line = color.YellowString(line)
		}
		fmt.Fprintln(w, line)
	}
}

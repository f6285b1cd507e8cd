// Package runner executes a task list one task at a time and fans each
// outcome out to history, events and notifications.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cgast/pagecheck/pkg/events"
	"github.com/cgast/pagecheck/pkg/history"
	ghnotify "github.com/cgast/pagecheck/pkg/notify/github"
	"github.com/cgast/pagecheck/pkg/task"
	"github.com/cgast/pagecheck/pkg/verify"
)

// Verifier runs one task. *verify.Verifier satisfies it.
type Verifier interface {
	Verify(ctx context.Context, t task.Task) (verify.Result, error)
}

// Recorder stores task outcomes. *history.Store satisfies it.
type Recorder interface {
	Save(rec *history.Record) error
}

// Notifier reports failed tasks. *github.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, result verify.Result, err error) (ghnotify.Notification, error)
}

// Outcome is the result of one task in a run.
type Outcome struct {
	Result   verify.Result
	Err      error
	RecordID string
}

// Passed reports whether the task succeeded.
func (o Outcome) Passed() bool { return o.Err == nil }

// Summary is the result of a whole run.
type Summary struct {
	RunID    string
	Outcomes []Outcome
	Skipped  []string
	Duration time.Duration
}

// Failed returns the number of failed tasks.
func (s Summary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if !o.Passed() {
			n++
		}
	}
	return n
}

// OK reports whether every task ran and passed.
func (s Summary) OK() bool {
	return s.Failed() == 0 && len(s.Skipped) == 0
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder stores every outcome.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithNotifier reports failed tasks.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithEvents publishes run-level events to bus.
func WithEvents(bus events.EventBus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithStopOnFailure skips the remaining tasks after the first failure.
func WithStopOnFailure(stop bool) Option {
	return func(r *Runner) { r.stopOnFailure = stop }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}

// Runner runs task lists.
type Runner struct {
	verifier      Verifier
	recorder      Recorder
	notifier      Notifier
	bus           events.EventBus
	stopOnFailure bool
	log           logrus.FieldLogger
}

// New creates a Runner around v.
func New(v Verifier, opts ...Option) *Runner {
	r := &Runner{
		verifier: v,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run verifies tasks in order. Task failures are reported in the summary;
// the returned error is non-nil only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, tasks []task.Task) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: newRunID()}
	log := r.log.WithField("run", summary.RunID)

	r.publish(events.NewEvent(events.EventRunStart, "", len(tasks)))
	defer func() {
		summary.Duration = time.Since(start)
		ev := events.NewEvent(events.EventRunEnd, "", fmt.Sprintf("%d/%d passed", len(summary.Outcomes)-summary.Failed(), len(tasks)))
		ev.Duration = summary.Duration
		r.publish(ev)
	}()

	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := r.verifier.Verify(ctx, t)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, ctxErr
		}

		outcome := Outcome{Result: result, Err: err}
		outcome.RecordID = r.record(log, summary.RunID, result, err)
		summary.Outcomes = append(summary.Outcomes, outcome)

		if err == nil {
			continue
		}
		log.WithFields(logrus.Fields{"task": t.Name, "kind": verify.Kind(err)}).Debug(err)
		r.notify(ctx, log, result, err)

		if r.stopOnFailure {
			for _, rest := range tasks[i+1:] {
				summary.Skipped = append(summary.Skipped, rest.Name)
			}
			break
		}
	}

	return summary, nil
}

func (r *Runner) record(log logrus.FieldLogger, runID string, result verify.Result, err error) string {
	if r.recorder == nil {
		return ""
	}
	rec := history.NewRecord(runID, result, err)
	if serr := r.recorder.Save(&rec); serr != nil {
		log.WithError(serr).Warn("could not record result in history")
		return ""
	}
	return rec.ID
}

func (r *Runner) notify(ctx context.Context, log logrus.FieldLogger, result verify.Result, err error) {
	if r.notifier == nil {
		return
	}
	note, nerr := r.notifier.Notify(ctx, result, err)
	if nerr != nil {
		log.WithError(nerr).Warn("could not report failure to GitHub")
		return
	}
	r.publish(events.NewEvent(events.EventNotify, result.Task, note.HTMLURL))
}

func (r *Runner) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

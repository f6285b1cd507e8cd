// Package verify drives a browser session through a task and checks the
// resulting page state.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cgast/pagecheck/pkg/browser"
	"github.com/cgast/pagecheck/pkg/events"
	"github.com/cgast/pagecheck/pkg/task"
)

// Default timeouts.
const (
	DefaultLaunchTimeout     = 30 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSelectorTimeout   = 10 * time.Second
	DefaultExpectTimeout     = 5 * time.Second
	DefaultSettleTimeout     = 5 * time.Second
	DefaultPollInterval      = 100 * time.Millisecond
)

// Timeouts bound each blocking step of a verification.
type Timeouts struct {
	Launch     time.Duration
	Navigation time.Duration
	Selector   time.Duration
	Expect     time.Duration
	Settle     time.Duration
	Poll       time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Launch:     DefaultLaunchTimeout,
		Navigation: DefaultNavigationTimeout,
		Selector:   DefaultSelectorTimeout,
		Expect:     DefaultExpectTimeout,
		Settle:     DefaultSettleTimeout,
		Poll:       DefaultPollInterval,
	}
}

// withDefaults fills zero fields.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Launch <= 0 {
		t.Launch = d.Launch
	}
	if t.Navigation <= 0 {
		t.Navigation = d.Navigation
	}
	if t.Selector <= 0 {
		t.Selector = d.Selector
	}
	if t.Expect <= 0 {
		t.Expect = d.Expect
	}
	if t.Settle <= 0 {
		t.Settle = d.Settle
	}
	if t.Poll <= 0 {
		t.Poll = d.Poll
	}
	return t
}

// FileWriter persists screenshots. *sandbox.Sandbox satisfies it.
type FileWriter interface {
	WriteFile(path string, data []byte) error
}

type osWriter struct{}

func (osWriter) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithFailFast stops evaluating expectations after the first mismatch.
// A task's own fail_fast setting takes precedence.
func WithFailFast(ff bool) Option {
	return func(v *Verifier) {
		v.failFast = ff
	}
}

// WithTimeouts sets the step timeouts. Zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(v *Verifier) {
		v.timeouts = t.withDefaults()
	}
}

// WithLaunchOptions sets the browser launch options. A task viewport
// overrides the size.
func WithLaunchOptions(opts browser.LaunchOptions) Option {
	return func(v *Verifier) {
		v.launch = opts
	}
}

// WithEvents publishes progress to bus.
func WithEvents(bus events.EventBus) Option {
	return func(v *Verifier) {
		v.bus = bus
	}
}

// WithWriter routes screenshot writes through w.
func WithWriter(w FileWriter) Option {
	return func(v *Verifier) {
		v.writer = w
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(v *Verifier) {
		v.log = l
	}
}

// Verifier runs verification tasks against a browser driver.
type Verifier struct {
	driver   browser.Driver
	failFast bool
	timeouts Timeouts
	launch   browser.LaunchOptions
	bus      events.EventBus
	writer   FileWriter
	log      logrus.FieldLogger
}

// New creates a Verifier using driver.
func New(driver browser.Driver, opts ...Option) *Verifier {
	v := &Verifier{
		driver:   driver,
		timeouts: DefaultTimeouts(),
		launch:   browser.LaunchOptions{Headless: true},
		writer:   osWriter{},
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify opens a fresh browser session, loads the task's page, performs
// its path, evaluates its expectations and writes the screenshot. The
// session is released on every return path.
//
// The returned error is a *NavigationError, *ElementNotFoundError or
// *AssertionMismatch for verification failures; anything else is an
// infrastructure error (browser launch, screenshot write, cancellation).
func (v *Verifier) Verify(ctx context.Context, t task.Task) (result Result, err error) {
	result = Result{
		Task:      t.Name,
		URL:       t.URL(),
		StartedAt: time.Now(),
	}
	log := v.log.WithField("task", t.Name)
	v.publish(events.NewEvent(events.EventTaskStart, t.Name, result.URL))
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		ev := events.NewEvent(events.EventTaskEnd, t.Name, result)
		ev.Duration = result.Duration
		v.publish(ev)
	}()

	launchCtx, cancel := context.WithTimeout(ctx, v.timeouts.Launch)
	sess, err := v.driver.Launch(launchCtx, v.launchOptions(t))
	cancel()
	if err != nil {
		return result, fmt.Errorf("launch %s browser: %w", v.driver.Name(), err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.WithError(cerr).Warn("closing browser session")
		}
	}()

	if err := v.navigate(ctx, sess, t.Name, result.URL); err != nil {
		return result, err
	}

	for _, a := range t.Path {
		start := time.Now()
		if err := v.perform(ctx, sess, t, a, &result); err != nil {
			return result, err
		}
		ev := events.NewEvent(events.EventAction, t.Name, a.String())
		ev.Duration = time.Since(start)
		v.publish(ev)
		log.WithField("action", a.String()).Debug("action done")
	}

	failFast := v.failFast
	if t.FailFast != nil {
		failFast = *t.FailFast
	}

	var failures []ExpectationResult
	for _, exp := range t.Expect {
		er, err := v.check(ctx, sess, exp)
		if err != nil {
			return result, err
		}
		result.Results = append(result.Results, er)
		v.publish(events.NewEvent(events.EventExpectation, t.Name, er))

		if !er.Passed {
			failures = append(failures, er)
			log.WithField("expectation", exp.Key()).Debug(er.Message)
			if failFast {
				break
			}
		}
	}

	if err := v.capture(ctx, sess, t.Name, t.Screenshot, &result); err != nil {
		return result, err
	}

	if len(failures) > 0 {
		return result, &AssertionMismatch{Task: t.Name, Failures: failures}
	}
	result.Passed = true
	return result, nil
}

func (v *Verifier) launchOptions(t task.Task) browser.LaunchOptions {
	opts := v.launch
	if t.Viewport.Width > 0 {
		opts.Width = t.Viewport.Width
	}
	if t.Viewport.Height > 0 {
		opts.Height = t.Viewport.Height
	}
	return opts
}

func (v *Verifier) navigate(ctx context.Context, sess browser.Session, name, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, v.timeouts.Navigation)
	defer cancel()

	start := time.Now()
	if err := sess.Navigate(navCtx, url); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NavigationError{URL: url, Err: err}
	}
	ev := events.NewEvent(events.EventNavigate, name, url)
	ev.Duration = time.Since(start)
	v.publish(ev)
	return nil
}

func (v *Verifier) perform(ctx context.Context, sess browser.Session, t task.Task, a task.Action, result *Result) error {
	switch a.Type {
	case task.ActionClick:
		timeout := v.selectorTimeout(a)
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := sess.Click(stepCtx, a.Selector); err != nil {
			return v.elementError(ctx, a.Selector, timeout, err)
		}

	case task.ActionWait:
		return sleep(ctx, a.Duration)

	case task.ActionSettle:
		timeout := a.Timeout
		if timeout <= 0 {
			timeout = v.timeouts.Settle
		}
		return v.settle(ctx, sess, t.Name, timeout)

	case task.ActionWaitVisible:
		timeout := v.selectorTimeout(a)
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := sess.WaitAttached(stepCtx, a.Selector)
		if err == nil {
			err = poll(stepCtx, v.timeouts.Poll, func(ctx context.Context) (bool, error) {
				return sess.Visible(ctx, a.Selector)
			})
		}
		if err != nil {
			return v.elementError(ctx, a.Selector, timeout, err)
		}

	case task.ActionNavigate:
		return v.navigate(ctx, sess, t.Name, task.JoinURL(t.BaseURL, a.Page))

	case task.ActionScreenshot:
		return v.capture(ctx, sess, t.Name, a.Path, result)

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

func (v *Verifier) selectorTimeout(a task.Action) time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return v.timeouts.Selector
}

// elementError classifies a failed selector step. Running out of time
// becomes an *ElementNotFoundError; caller cancellation is returned as is.
func (v *Verifier) elementError(parent context.Context, selector string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if timedOut(parent, err) {
		return &ElementNotFoundError{Selector: selector, Timeout: timeout, Err: err}
	}
	return fmt.Errorf("%s: %w", selector, err)
}

// check evaluates one expectation within the expect timeout.
func (v *Verifier) check(ctx context.Context, sess browser.Session, exp task.Expectation) (ExpectationResult, error) {
	checker := GetChecker(exp.Type)
	if checker == nil {
		return ExpectationResult{
			Expectation: exp,
			Passed:      false,
			Message:     fmt.Sprintf("unknown expectation type: %q", exp.Type),
		}, nil
	}

	expCtx, cancel := context.WithTimeout(ctx, v.timeouts.Expect)
	defer cancel()

	er, err := checker(expCtx, sess, exp, v.timeouts.Poll)
	if err != nil {
		label := exp.Selector
		if label == "" {
			label = exp.Key()
		}
		return er, v.elementError(ctx, label, v.timeouts.Expect, err)
	}
	if ctx.Err() != nil {
		return er, ctx.Err()
	}
	return er, nil
}

// settle waits for the stable-render predicate. Running out of time is
// logged and published, not returned.
func (v *Verifier) settle(ctx context.Context, sess browser.Session, name string, timeout time.Duration) error {
	settleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := poll(settleCtx, v.timeouts.Poll, sess.Settled)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("settle: %w", err)
	}
	v.log.WithField("task", name).Warnf("page did not settle within %s, continuing", timeout)
	v.publish(events.NewEvent(events.EventSettleTimeout, name, timeout.String()))
	return nil
}

// capture settles the page and writes a full-page PNG to path.
func (v *Verifier) capture(ctx context.Context, sess browser.Session, name, path string, result *Result) error {
	if err := v.settle(ctx, sess, name, v.timeouts.Settle); err != nil {
		return err
	}

	shotCtx, cancel := context.WithTimeout(ctx, v.timeouts.Navigation)
	defer cancel()
	data, err := sess.Screenshot(shotCtx)
	if err != nil {
		return fmt.Errorf("screenshot %s: %w", path, err)
	}
	if err := v.writer.WriteFile(path, data); err != nil {
		return fmt.Errorf("save screenshot: %w", err)
	}

	result.Screenshots = append(result.Screenshots, path)
	v.publish(events.NewEvent(events.EventScreenshot, name, path))
	return nil
}

func (v *Verifier) publish(e events.Event) {
	if v.bus != nil {
		v.bus.Publish(e)
	}
}

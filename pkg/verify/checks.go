package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cgast/pagecheck/pkg/browser"
	"github.com/cgast/pagecheck/pkg/task"
)

// Checker evaluates one expectation against a live page. ctx carries the
// expectation timeout; the checker retries until the observed value matches
// or ctx expires, then reports the last observed value. It returns an error
// only when the expectation could not be evaluated, e.g. the selector never
// attached.
type Checker func(ctx context.Context, sess browser.Session, exp task.Expectation, interval time.Duration) (ExpectationResult, error)

// builtinCheckers maps expectation types to their checkers.
var builtinCheckers = map[string]Checker{
	task.ExpectVisibility: checkVisibility,
	task.ExpectCSS:        checkCSS,
	task.ExpectTitle:      checkTitle,
}

// GetChecker returns the checker for an expectation type, or nil.
func GetChecker(name string) Checker {
	return builtinCheckers[name]
}

func checkVisibility(ctx context.Context, sess browser.Session, exp task.Expectation, interval time.Duration) (ExpectationResult, error) {
	if err := sess.WaitAttached(ctx, exp.Selector); err != nil {
		return ExpectationResult{}, err
	}

	observed := "hidden"
	err := poll(ctx, interval, func(ctx context.Context) (bool, error) {
		visible, err := sess.Visible(ctx, exp.Selector)
		if err != nil {
			return false, err
		}
		if visible {
			observed = "visible"
		}
		return visible, nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return ExpectationResult{}, err
	}

	return compare(exp, "visible", observed,
		fmt.Sprintf("expected %s to be visible", exp.Selector)), nil
}

func checkCSS(ctx context.Context, sess browser.Session, exp task.Expectation, interval time.Duration) (ExpectationResult, error) {
	if err := sess.WaitAttached(ctx, exp.Selector); err != nil {
		return ExpectationResult{}, err
	}

	var observed string
	err := poll(ctx, interval, func(ctx context.Context) (bool, error) {
		value, err := sess.ComputedStyle(ctx, exp.Selector, exp.Property)
		if err != nil {
			return false, err
		}
		observed = value
		return value == exp.Expected, nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return ExpectationResult{}, err
	}

	return compare(exp, exp.Expected, observed,
		fmt.Sprintf("expected %s of %s to be %q, got %q", exp.Property, exp.Selector, exp.Expected, observed)), nil
}

func checkTitle(ctx context.Context, sess browser.Session, exp task.Expectation, interval time.Duration) (ExpectationResult, error) {
	var observed string
	err := poll(ctx, interval, func(ctx context.Context) (bool, error) {
		title, err := sess.Title(ctx)
		if err != nil {
			return false, err
		}
		observed = title
		return title == exp.Expected, nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return ExpectationResult{}, err
	}

	return compare(exp, exp.Expected, observed,
		fmt.Sprintf("expected title %q, got %q", exp.Expected, observed)), nil
}

// compare builds the result. The expectation's own message, when set,
// replaces the generated one on failure.
func compare(exp task.Expectation, want, observed, failMsg string) ExpectationResult {
	passed := observed == want
	msg := ""
	if !passed {
		msg = exp.Message
		if msg == "" {
			msg = failMsg
		}
	}
	return ExpectationResult{
		Expectation: exp,
		Observed:    observed,
		Passed:      passed,
		Message:     msg,
	}
}

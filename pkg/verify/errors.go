package verify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NavigationError reports that a page could not be loaded in time.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ElementNotFoundError reports that a selector did not resolve before its
// timeout elapsed.
type ElementNotFoundError struct {
	Selector string
	Timeout  time.Duration
	Err      error
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element %q not found within %s", e.Selector, e.Timeout)
}

func (e *ElementNotFoundError) Unwrap() error { return e.Err }

// AssertionMismatch reports expectations whose observed value differed
// from the expected one. Failures holds every failed result that was
// evaluated; with fail-fast that is exactly one.
type AssertionMismatch struct {
	Task     string
	Failures []ExpectationResult
}

func (e *AssertionMismatch) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Message
	}
	return fmt.Sprintf("task %s: %d expectation(s) failed: %s", e.Task, len(e.Failures), strings.Join(msgs, "; "))
}

// Error kinds reported by Kind.
const (
	KindNavigation      = "navigation"
	KindElementNotFound = "element_not_found"
	KindMismatch        = "assertion_mismatch"
	KindError           = "error"
)

// Kind classifies err for reports and history. It returns "" for nil.
func Kind(err error) string {
	var (
		navErr   *NavigationError
		notFound *ElementNotFoundError
		mismatch *AssertionMismatch
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &navErr):
		return KindNavigation
	case errors.As(err, &notFound):
		return KindElementNotFound
	case errors.As(err, &mismatch):
		return KindMismatch
	default:
		return KindError
	}
}

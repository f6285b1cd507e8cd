package verify

import (
	"context"
	"errors"
	"time"

	"github.com/cgast/pagecheck/pkg/browser"
)

// Condition is evaluated repeatedly by poll until it reports true.
type Condition func(ctx context.Context) (bool, error)

// poll evaluates cond immediately and then every interval until it holds,
// it returns an error, or ctx is done. When ctx expires while cond is in
// flight the context error is returned instead of the driver's.
func poll(ctx context.Context, interval time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err == nil && ok {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sleep pauses for d unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// timedOut reports whether err means a bounded step ran out of time, as
// opposed to the whole verification being cancelled by the caller.
func timedOut(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, browser.ErrElementNotFound)
}

// Package chromedp implements browser.Driver on top of chromedp.
package chromedp

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/cgast/pagecheck/pkg/browser"
)

// Driver launches Chrome through chromedp, or attaches to a running one
// when LaunchOptions.RemoteURL is set.
type Driver struct{}

// New returns a chromedp driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return "chromedp" }

// Launch starts the browser and opens the initial tab. The returned session
// owns both; Close tears them down.
func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	width, height := opts.Size()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(width, height),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
		)
		if !opts.Headless {
			allocOpts = append(allocOpts, chromedp.Flag("headless", false))
		}
		if opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{ctx: tabCtx, cancel: func() {
		tabCancel()
		allocCancel()
	}}

	// The first Run allocates the browser and binds its lifetime to the
	// context it is given, so it must be the tab context itself.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	startCtx, done := s.scope(ctx)
	defer done()
	// The cache is disabled so repeated runs observe the same server state.
	if err := chromedp.Run(startCtx,
		network.Enable(),
		network.SetCacheDisabled(true),
		chromedp.EmulateViewport(int64(width), int64(height)),
	); err != nil {
		s.Close()
		return nil, fmt.Errorf("configure tab: %w", err)
	}
	return s, nil
}

// Session is a single chromedp tab.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// scope derives a chromedp context from the session that also ends when
// ctx is cancelled or reaches its deadline.
func (s *Session) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(s.ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		c, cancelDeadline = context.WithDeadline(c, dl)
		prev := cancel
		cancel = func() {
			cancelDeadline()
			prev()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	c, done := s.scope(ctx)
	defer done()
	return chromedp.Run(c, actions...)
}

// Navigate treats HTTP error statuses as navigation failures.
func (s *Session) Navigate(ctx context.Context, url string) error {
	c, done := s.scope(ctx)
	defer done()

	resp, err := chromedp.RunResponse(c, chromedp.Navigate(url))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", browser.ErrNavigation, url, err)
	}
	if resp != nil && resp.Status >= 400 {
		return fmt.Errorf("%w: %s: HTTP %d %s", browser.ErrNavigation, url, resp.Status, resp.StatusText)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return classify(selector, err)
	}
	return nil
}

func (s *Session) WaitAttached(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return classify(selector, err)
	}
	return nil
}

func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	if err := s.run(ctx, chromedp.Evaluate(browser.VisibleScript(selector), &visible)); err != nil {
		return false, fmt.Errorf("evaluate visibility of %s: %w", selector, err)
	}
	return visible, nil
}

func (s *Session) ComputedStyle(ctx context.Context, selector, property string) (string, error) {
	var res browser.StyleResult
	if err := s.run(ctx, chromedp.Evaluate(browser.StyleScript(selector, property), &res)); err != nil {
		return "", fmt.Errorf("evaluate style %s of %s: %w", property, selector, err)
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return res.Value, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (s *Session) Settled(ctx context.Context) (bool, error) {
	var settled bool
	if err := s.run(ctx, chromedp.Evaluate(browser.SettledScript, &settled)); err != nil {
		return false, fmt.Errorf("evaluate settled: %w", err)
	}
	return settled, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down. Safe to call more than once.
func (s *Session) Close() error {
	if s.cancel == nil {
		return nil
	}
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.cancel = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

// classify maps a selector wait failure to browser.ErrElementNotFound when
// it was the deadline that ended the wait.
func classify(selector string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", browser.ErrElementNotFound, selector, err)
	}
	return fmt.Errorf("%s: %w", selector, err)
}

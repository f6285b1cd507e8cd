// Package playwright implements browser.Driver on top of playwright-go.
// Browsers must be installed beforehand:
//
//	go run github.com/playwright-community/playwright-go/cmd/playwright install chromium
package playwright

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/cgast/pagecheck/pkg/browser"
)

// defaultTimeout bounds calls made with a context that has no deadline.
const defaultTimeout = 30 * time.Second

// Driver launches Chromium through the Playwright driver process.
type Driver struct{}

// New returns a playwright driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return "playwright" }

// Launch starts Playwright, a Chromium instance and one page. With
// RemoteURL set it connects over CDP instead of launching.
func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Playwright's startup calls take no context, so they run aside and a
	// session that arrives after ctx is done is torn down.
	type launched struct {
		sess *Session
		err  error
	}
	done := make(chan launched, 1)
	go func() {
		sess, err := launch(ctx, opts)
		done <- launched{sess, err}
	}()

	select {
	case l := <-done:
		return l.sess, l.err
	case <-ctx.Done():
		go func() {
			if l := <-done; l.sess != nil {
				l.sess.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func launch(ctx context.Context, opts browser.LaunchOptions) (*Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	var b playwright.Browser
	if opts.RemoteURL != "" {
		b, err = pw.Chromium.ConnectOverCDP(opts.RemoteURL, playwright.BrowserTypeConnectOverCDPOptions{
			Timeout: timeoutMs(ctx),
		})
	} else {
		launch := playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
			Timeout:  timeoutMs(ctx),
		}
		if opts.ExecPath != "" {
			launch.ExecutablePath = playwright.String(opts.ExecPath)
		}
		b, err = pw.Chromium.Launch(launch)
	}
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	width, height := opts.Size()
	page, err := b.NewPage(playwright.BrowserNewPageOptions{
		Viewport: &playwright.Size{Width: width, Height: height},
	})
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("new page: %w", err)
	}

	return &Session{pw: pw, browser: b, page: page}, nil
}

// Session wraps a Playwright page and the processes behind it.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

// timeoutMs converts the remaining time of ctx into Playwright's
// millisecond timeout option.
func timeoutMs(ctx context.Context) *float64 {
	d := defaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		d = time.Until(dl)
		if d < time.Millisecond {
			d = time.Millisecond
		}
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeoutMs(ctx),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", browser.ErrNavigation, url, err)
	}
	if resp != nil && resp.Status() >= 400 {
		return fmt.Errorf("%w: %s: HTTP %d %s", browser.ErrNavigation, url, resp.Status(), resp.StatusText())
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	err := s.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: timeoutMs(ctx),
	})
	if err != nil {
		return classify(selector, err)
	}
	return nil
}

func (s *Session) WaitAttached(ctx context.Context, selector string) error {
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: timeoutMs(ctx),
	})
	if err != nil {
		return classify(selector, err)
	}
	return nil
}

func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	visible, err := s.page.Locator(selector).First().IsVisible()
	if err != nil {
		return false, fmt.Errorf("check visibility of %s: %w", selector, err)
	}
	return visible, nil
}

func (s *Session) ComputedStyle(ctx context.Context, selector, property string) (string, error) {
	count, err := s.page.Locator(selector).Count()
	if err != nil {
		return "", fmt.Errorf("count %s: %w", selector, err)
	}
	if count == 0 {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}

	v, err := s.page.Locator(selector).First().Evaluate(
		"(el, prop) => window.getComputedStyle(el).getPropertyValue(prop)",
		property,
		playwright.LocatorEvaluateOptions{Timeout: timeoutMs(ctx)},
	)
	if err != nil {
		return "", fmt.Errorf("evaluate style %s of %s: %w", property, selector, err)
	}
	value, _ := v.(string)
	return value, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	title, err := s.page.Title()
	if err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (s *Session) Settled(ctx context.Context) (bool, error) {
	v, err := s.page.Evaluate(browser.SettledScript)
	if err != nil {
		return false, fmt.Errorf("evaluate settled: %w", err)
	}
	settled, _ := v.(bool)
	return settled, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
		Timeout:  timeoutMs(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts down the page, the browser and the Playwright driver.
func (s *Session) Close() error {
	if s.pw == nil {
		return nil
	}
	var errs []error
	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := s.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	s.pw = nil
	return errors.Join(errs...)
}

func classify(selector string, err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %s: %w", browser.ErrElementNotFound, selector, err)
	}
	return fmt.Errorf("%s: %w", selector, err)
}

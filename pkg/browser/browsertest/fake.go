// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cgast/pagecheck/pkg/browser"
)

// Page describes what the fake browser renders at one URL.
type Page struct {
	Title string
	// Elements maps a selector to the element it resolves to.
	Elements map[string]*Element
	// Links maps a clickable selector to the URL it leads to.
	Links map[string]string
	// SettleAfter is the number of Settled calls that report false
	// before the page settles.
	SettleAfter int
	// TitleErr makes Title fail.
	TitleErr error
}

// Element is a rendered element in a fake page.
type Element struct {
	Visible bool
	Styles  map[string]string
	// AppearAfter delays the element: the first AppearAfter lookups
	// behave as if it were not yet attached.
	AppearAfter int

	lookups int
}

// Driver is a fake browser.Driver. Pages are keyed by URL.
type Driver struct {
	mu       sync.Mutex
	pages    map[string]*Page
	launches int
	sessions []*Session
	// LaunchErr makes Launch fail.
	LaunchErr error
	// LaunchDelay makes Launch block this long or until ctx is done.
	LaunchDelay time.Duration
	// Screenshot is returned by Session.Screenshot.
	Screenshot []byte
}

// NewDriver returns a fake driver serving pages.
func NewDriver(pages map[string]*Page) *Driver {
	return &Driver{pages: pages, Screenshot: []byte("\x89PNG fake")}
}

func (d *Driver) Name() string { return "fake" }

func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	if d.LaunchDelay > 0 {
		select {
		case <-time.After(d.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	s := &Session{driver: d, Options: opts}
	d.sessions = append(d.sessions, s)
	return s, nil
}

// Launches returns how many sessions were started.
func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

// Sessions returns every session started so far.
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

func (d *Driver) page(url string) (*Page, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[url]
	return p, ok
}

// Session is a fake browser session. Calls records every operation in order.
type Session struct {
	driver  *Driver
	Options browser.LaunchOptions
	URL     string
	Closed  bool
	Calls   []string

	current *Page
	settles int
}

func (s *Session) record(format string, args ...any) {
	s.Calls = append(s.Calls, fmt.Sprintf(format, args...))
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.record("navigate %s", url)
	p, ok := s.driver.page(url)
	if !ok {
		return fmt.Errorf("%w: %s: net::ERR_CONNECTION_REFUSED", browser.ErrNavigation, url)
	}
	s.URL = url
	s.current = p
	s.settles = 0
	return nil
}

// lookup resolves selector, retrying every few milliseconds until it
// appears or ctx is done. A missing element without a deadline fails
// immediately.
func (s *Session) lookup(ctx context.Context, selector string) (*Element, error) {
	for {
		if s.current != nil {
			if el, ok := s.current.Elements[selector]; ok {
				el.lookups++
				if el.lookups > el.AppearAfter {
					return el, nil
				}
			}
		}
		if _, ok := ctx.Deadline(); !ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", browser.ErrElementNotFound, selector, ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	s.record("click %s", selector)
	if _, err := s.lookup(ctx, selector); err != nil {
		return err
	}
	if target, ok := s.current.Links[selector]; ok {
		if p, ok := s.driver.page(target); ok {
			s.URL = target
			s.current = p
			s.settles = 0
		}
	}
	return nil
}

func (s *Session) WaitAttached(ctx context.Context, selector string) error {
	s.record("wait_attached %s", selector)
	_, err := s.lookup(ctx, selector)
	return err
}

func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	s.record("visible %s", selector)
	if s.current == nil {
		return false, nil
	}
	el, ok := s.current.Elements[selector]
	return ok && el.Visible, nil
}

func (s *Session) ComputedStyle(ctx context.Context, selector, property string) (string, error) {
	s.record("style %s %s", selector, property)
	if s.current == nil {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	el, ok := s.current.Elements[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return el.Styles[property], nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	s.record("title")
	if s.current == nil {
		return "", nil
	}
	if s.current.TitleErr != nil {
		return "", s.current.TitleErr
	}
	return s.current.Title, nil
}

func (s *Session) Settled(ctx context.Context) (bool, error) {
	s.record("settled")
	if s.current == nil {
		return true, nil
	}
	s.settles++
	return s.settles > s.current.SettleAfter, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	s.record("screenshot")
	return s.driver.Screenshot, nil
}

func (s *Session) Close() error {
	s.record("close")
	s.Closed = true
	return nil
}

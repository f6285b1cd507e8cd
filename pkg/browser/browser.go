// Package browser defines the narrow surface pagecheck needs from a browser
// automation library. Concrete drivers live in the chromedp and playwright
// subpackages.
package browser

import (
	"context"
	"errors"
)

// Sentinel errors drivers wrap so callers can classify failures without
// knowing which automation library produced them.
var (
	ErrNavigation      = errors.New("navigation failed")
	ErrElementNotFound = errors.New("element not found")
)

// Driver starts browser sessions.
type Driver interface {
	Name() string
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Session is one browser process with a single isolated page. All methods
// honour the deadline of the context they are given.
type Session interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// Click waits until selector is interactable and clicks it.
	Click(ctx context.Context, selector string) error
	// WaitAttached blocks until selector matches an element in the DOM.
	WaitAttached(ctx context.Context, selector string) error
	// Visible reports whether the first match of selector is rendered and not hidden.
	Visible(ctx context.Context, selector string) (bool, error)
	// ComputedStyle returns the computed value of property on the first match of selector.
	ComputedStyle(ctx context.Context, selector, property string) (string, error)
	// Title returns document.title.
	Title(ctx context.Context) (string, error)
	// Settled reports whether the page finished loading and no finite animation is running.
	Settled(ctx context.Context) (bool, error)
	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the page and the browser process.
	Close() error
}

// LaunchOptions configure a new session.
type LaunchOptions struct {
	Headless  bool
	Width     int
	Height    int
	RemoteURL string // connect to an already running browser instead of starting one
	ExecPath  string
}

// Default viewport when neither the task nor the config specify one.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Size returns the viewport, falling back to the defaults.
func (o LaunchOptions) Size() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	return w, h
}

// File: internal/harness/driver.go
package harness

import (
	"context"
	"time"
)

// Element is an opaque reference to a located control on the page. Handles
// are transient: navigation invalidates them.
type Element interface {
	// Selector returns a CSS selector that uniquely addresses the element
	// for the remainder of the page's lifetime.
	Selector() string
}

// Driver is the browser automation boundary the harness drives. The chromedp
// implementation lives in internal/browser; tests substitute scripted fakes.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	FindElements(ctx context.Context, cssSelector string) ([]Element, error)
	// Evaluate runs a script expression in page context and unmarshals the
	// result into out (may be nil when no result is wanted).
	Evaluate(ctx context.Context, script string, out any) error
	// EvaluateOn invokes fnScript, a JS function literal taking one element,
	// against the element addressed by el. This is the deep-query host: the
	// function may traverse shadow roots the page encapsulates.
	EvaluateOn(ctx context.Context, el Element, fnScript string, out any) error
	// WaitReady blocks until the selector matches a ready element or the
	// timeout elapses.
	WaitReady(ctx context.Context, selector string, timeout time.Duration) error
	ClearCookies(ctx context.Context) error
	Reload(ctx context.Context) error
	ScrollTop(ctx context.Context) error
	Close(ctx context.Context) error
}

// Target describes one page under test, decoded from the input CSV.
type Target struct {
	URL               string
	Description       string
	ExpectedDropdowns int
	Browser           string
	Device            string
	MobileDevice      string
	// Headless overrides the configured headless mode when non-nil.
	Headless *bool
}

// SessionFactory creates a fresh, isolated browser session for one target.
// Sessions are never shared between targets.
type SessionFactory interface {
	NewSession(ctx context.Context, target Target) (Driver, error)
}

// Dropdown pairs a located control with its extracted options.
type Dropdown struct {
	Index   int
	Element Element
	Options []Option
}

// sleepCtx pauses for d, honoring context cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

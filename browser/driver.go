package browser

import (
	"context"
	"time"
)

// Driver launches a browser process and hands back a Browser handle.
// The production driver speaks CDP through go-rod; tests substitute a
// fake so pool behavior can be exercised without Chromium.
type Driver interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	// NewContext creates an isolated browsing context (separate
	// cookies and storage) inside the shared process.
	NewContext(ctx context.Context) (BrowserContext, error)

	// Connected reports whether the browser process is still reachable.
	Connected() bool

	// Close disconnects and kills the browser process.
	Close() error
}

// BrowserContext is an isolated browsing session. Contexts are pooled
// and fungible: callers only ever hold exclusive possession of one via
// the page lent from it, never an identity.
type BrowserContext interface {
	// NewPage opens a blank tab in this context.
	NewPage(ctx context.Context) (Page, error)

	// ClearCookies resets the context's cookie state between lends.
	ClearCookies(ctx context.Context) error

	// Close destroys the context and every page in it.
	Close() error
}

// Page is one navigable tab, the unit lent to a single in-flight
// request. Every operation honors ctx cancellation and the pool's
// per-operation page timeout.
type Page interface {
	// SetDefaultTimeout sets the per-operation deadline applied to
	// every subsequent page operation. The pool calls this once on
	// every lent page.
	SetDefaultTimeout(d time.Duration)

	// Navigate loads the URL and waits for the DOM to settle.
	Navigate(ctx context.Context, url string) error

	// Elements returns all elements currently matching the selector,
	// without waiting for any to appear.
	Elements(ctx context.Context, selector string) ([]Element, error)

	// WaitSelector blocks until at least one element matches the
	// selector. A timeout of 0 falls back to the page timeout.
	WaitSelector(ctx context.Context, selector string, timeout time.Duration) error

	// Click waits for the selector and clicks the first match.
	Click(ctx context.Context, selector string) error

	// Type waits for the selector, clears the first match and types
	// the text into it.
	Type(ctx context.Context, selector, text string) error

	// Eval runs a JS expression or function in the page.
	Eval(ctx context.Context, script string) error

	// HTML returns the page's current rendered HTML.
	HTML(ctx context.Context) (string, error)

	// Close closes the tab. The owning context stays alive.
	Close() error
}

// Element is a handle to one DOM element.
type Element interface {
	// Text returns the element's text content.
	Text(ctx context.Context) (string, error)

	// Attribute returns the named DOM attribute, or nil when the
	// attribute is absent.
	Attribute(ctx context.Context, name string) (*string, error)

	// Element returns the first descendant matching the selector, or
	// nil when nothing matches.
	Element(ctx context.Context, selector string) (Element, error)

	// Next returns the next sibling element, or nil at the end.
	Next(ctx context.Context) (Element, error)

	// Parent returns the parent element, or nil at the root.
	Parent(ctx context.Context) (Element, error)
}

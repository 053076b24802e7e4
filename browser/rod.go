package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// domStableWait is the settle window used after navigation.
const domStableWait = 300 * time.Millisecond

// RodConfig controls the go-rod driver.
type RodConfig struct {
	// Headless controls whether Chromium runs headless.
	Headless bool

	// NoSandbox disables Chromium's sandbox (needed in Docker).
	NoSandbox bool

	// Bin overrides the Chromium binary path.
	Bin string

	// Proxy is an optional proxy URL applied to the whole browser.
	Proxy string

	// Stealth injects anti-bot-detection JS into every new page.
	Stealth bool

	// ExtraHeaders is applied to every new page, e.g. a custom
	// User-Agent or Accept-Language.
	ExtraHeaders map[string]string
}

// rodDriver launches Chromium and wraps it behind the Driver interface.
type rodDriver struct {
	cfg RodConfig
}

// NewRodDriver creates the production driver backed by go-rod.
func NewRodDriver(cfg RodConfig) Driver {
	return &rodDriver{cfg: cfg}
}

func (d *rodDriver) Launch(ctx context.Context) (Browser, error) {
	l := launcher.New().
		Headless(d.cfg.Headless).
		NoSandbox(d.cfg.NoSandbox)

	if d.cfg.Bin != "" {
		l = l.Bin(d.cfg.Bin)
	}
	if d.cfg.Proxy != "" {
		l = l.Proxy(d.cfg.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching chromium: %w", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	rb := &rodBrowser{browser: b, launcher: l, cfg: d.cfg}
	rb.connected.Store(true)
	return rb, nil
}

type rodBrowser struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	cfg       RodConfig
	connected atomic.Bool
}

func (b *rodBrowser) NewContext(ctx context.Context) (BrowserContext, error) {
	inc, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("creating incognito context: %w", err)
	}
	return &rodContext{inc: inc, cfg: b.cfg}, nil
}

func (b *rodBrowser) Connected() bool {
	return b.connected.Load()
}

func (b *rodBrowser) Close() error {
	b.connected.Store(false)
	err := b.browser.Close()
	// leakless usually reaps Chromium; Kill is the belt for the case
	// where the CDP connection died first.
	b.launcher.Kill()
	return err
}

type rodContext struct {
	inc *rod.Browser
	cfg RodConfig
}

func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.inc.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}

	// Stealth and headers must be installed before any navigation or
	// they won't take effect for the first load.
	if c.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	if len(c.cfg.ExtraHeaders) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(c.cfg.ExtraHeaders),
		}).Call(page); err != nil {
			slog.Warn("setting extra headers failed", "error", err)
		}
	}

	return &rodPage{page: page}, nil
}

func (c *rodContext) ClearCookies(ctx context.Context) error {
	// SetCookies with nil clears every cookie in the context.
	return c.inc.Context(ctx).SetCookies(nil)
}

func (c *rodContext) Close() error {
	return c.inc.Close()
}

// rodPage adapts *rod.Page. Operations bind the caller's context plus
// the pool's default timeout so a stuck CDP call cannot outlive the
// request.
type rodPage struct {
	page    *rod.Page
	timeout time.Duration
}

func (p *rodPage) SetDefaultTimeout(d time.Duration) {
	p.timeout = d
}

func (p *rodPage) bind(ctx context.Context) *rod.Page {
	pg := p.page.Context(ctx)
	if p.timeout > 0 {
		pg = pg.Timeout(p.timeout)
	}
	return pg
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.bind(ctx)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	// Recipes target JS-heavy pages; give the DOM a moment to settle.
	// Non-convergence is fine, extraction proceeds with the current DOM.
	if err := pg.WaitDOMStable(domStableWait, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding", "url", url, "error", err)
	}
	return nil
}

func (p *rodPage) Elements(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.bind(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el, timeout: p.timeout}
	}
	return out, nil
}

func (p *rodPage) WaitSelector(ctx context.Context, selector string, timeout time.Duration) error {
	pg := p.bind(ctx)
	if timeout > 0 {
		pg = pg.Timeout(timeout)
	}
	return pg.WaitElementsMoreThan(selector, 0)
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.bind(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Type(ctx context.Context, selector, text string) error {
	el, err := p.bind(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	// Clear any pre-filled value first, like a user select-all + type.
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (p *rodPage) Eval(ctx context.Context, script string) error {
	_, err := p.bind(ctx).Eval(script)
	return err
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.bind(ctx).HTML()
}

func (p *rodPage) Close() error {
	// Use the original page reference so close succeeds even after the
	// request context expired.
	return p.page.Close()
}

type rodElement struct {
	el      *rod.Element
	timeout time.Duration
}

func (e *rodElement) bind(ctx context.Context) *rod.Element {
	el := e.el.Context(ctx)
	if e.timeout > 0 {
		el = el.Timeout(e.timeout)
	}
	return el
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.bind(ctx).Text()
}

func (e *rodElement) Attribute(ctx context.Context, name string) (*string, error) {
	return e.bind(ctx).Attribute(name)
}

func (e *rodElement) Element(ctx context.Context, selector string) (Element, error) {
	has, child, err := e.bind(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return &rodElement{el: child, timeout: e.timeout}, nil
}

func (e *rodElement) Next(ctx context.Context) (Element, error) {
	next, err := e.bind(ctx).Next()
	if err != nil {
		// No next sibling resolves to nil, matching Parent at the root.
		return nil, nil
	}
	return &rodElement{el: next, timeout: e.timeout}, nil
}

func (e *rodElement) Parent(ctx context.Context) (Element, error) {
	parent, err := e.bind(ctx).Parent()
	if err != nil {
		return nil, nil
	}
	return &rodElement{el: parent, timeout: e.timeout}, nil
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders
// type (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

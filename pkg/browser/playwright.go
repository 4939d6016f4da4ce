package browser

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
)

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

// requestTracker counts in-flight page-affecting requests.
type requestTracker struct {
	mu       sync.Mutex
	inflight map[playwright.Request]struct{}
	last     time.Time
}

func newRequestTracker() *requestTracker {
	return &requestTracker{inflight: make(map[playwright.Request]struct{})}
}

func (t *requestTracker) started(r playwright.Request) {
	if !IsPageAffecting(r.ResourceType()) {
		return
	}
	t.mu.Lock()
	t.inflight[r] = struct{}{}
	t.last = time.Now()
	t.mu.Unlock()
}

func (t *requestTracker) finished(r playwright.Request) {
	t.mu.Lock()
	if _, ok := t.inflight[r]; ok {
		delete(t.inflight, r)
		t.last = time.Now()
	}
	t.mu.Unlock()
}

func (t *requestTracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *requestTracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// playwrightPage adapts playwright.Page to Page.
type playwrightPage struct {
	page         playwright.Page
	tracker      *requestTracker
	downloadsDir string
	crashed      atomic.Bool

	mu        sync.Mutex
	downloads []Download
}

func newPlaywrightPage(p playwright.Page, downloadsDir string, actionTimeout time.Duration) *playwrightPage {
	pp := &playwrightPage{
		page:         p,
		tracker:      newRequestTracker(),
		downloadsDir: downloadsDir,
	}
	if actionTimeout > 0 {
		p.SetDefaultTimeout(float64(actionTimeout.Milliseconds()))
	}
	p.OnRequest(pp.tracker.started)
	p.OnRequestFinished(pp.tracker.finished)
	p.OnRequestFailed(pp.tracker.finished)
	p.OnDownload(func(d playwright.Download) { pp.handleDownload(d) })
	p.OnCrash(func(playwright.Page) {
		browserLog.Warnf("page crashed: %s", p.URL())
		pp.crashed.Store(true)
	})
	return pp
}

// downloadSource is the part of playwright.Download the recorder needs.
type downloadSource interface {
	URL() string
	SuggestedFilename() string
	SaveAs(path string) error
}

// handleDownload runs on the driver's event goroutine, which also delivers
// RPC replies, so the save has to happen elsewhere.
func (p *playwrightPage) handleDownload(d downloadSource) {
	rec := Download{
		URL:               d.URL(),
		SuggestedFilename: d.SuggestedFilename(),
		At:                time.Now(),
	}
	p.mu.Lock()
	p.downloads = append(p.downloads, rec)
	i := len(p.downloads) - 1
	p.mu.Unlock()

	if p.downloadsDir != "" {
		path := filepath.Join(p.downloadsDir, filepath.Base(rec.SuggestedFilename))
		go p.saveDownload(d, i, path)
	}
}

func (p *playwrightPage) saveDownload(d downloadSource, i int, path string) {
	if err := d.SaveAs(path); err != nil {
		browserLog.Warnf("failed to save download %s: %v", d.SuggestedFilename(), err)
		return
	}
	p.mu.Lock()
	p.downloads[i].Path = path
	p.mu.Unlock()
}

func (p *playwrightPage) Downloads() []Download {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Download(nil), p.downloads...)
}

func (p *playwrightPage) URL() string            { return p.page.URL() }
func (p *playwrightPage) Title() (string, error) { return p.page.Title() }
func (p *playwrightPage) IsClosed() bool         { return p.crashed.Load() || p.page.IsClosed() }
func (p *playwrightPage) Network() NetworkState  { return p.tracker }

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   ms(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *playwrightPage) Reload(timeout time.Duration) error {
	_, err := p.page.Reload(playwright.PageReloadOptions{
		Timeout:   ms(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *playwrightPage) GoBack(timeout time.Duration) error {
	_, err := p.page.GoBack(playwright.PageGoBackOptions{
		Timeout:   ms(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *playwrightPage) Evaluate(expression string, arg any) (any, error) {
	return p.page.Evaluate(expression, arg)
}

func (p *playwrightPage) Content() (string, error) { return p.page.Content() }

func (p *playwrightPage) locator(selector string) playwright.Locator {
	return p.page.Locator(selector).First()
}

func (p *playwrightPage) Click(selector string, opts ClickOptions) error {
	return p.locator(selector).Click(playwright.LocatorClickOptions{
		Force: playwright.Bool(opts.Force),
	})
}

func (p *playwrightPage) DispatchClick(selector string) error {
	return p.locator(selector).DispatchEvent("click", nil)
}

func (p *playwrightPage) BoundingBox(selector string) (*Rect, error) {
	box, err := p.locator(selector).BoundingBox()
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, nil
	}
	return &Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (p *playwrightPage) MouseClick(x, y float64) error {
	return p.page.Mouse().Click(x, y)
}

func (p *playwrightPage) Clear(selector string) error {
	return p.locator(selector).Clear()
}

func (p *playwrightPage) Type(selector, text string, delay time.Duration) error {
	return p.locator(selector).PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay: ms(delay),
	})
}

func (p *playwrightPage) Press(selector, keys string) error {
	if selector == "" {
		return p.page.Keyboard().Press(keys)
	}
	return p.locator(selector).Press(keys)
}

func (p *playwrightPage) SelectOption(selector string, labels []string) error {
	loc := p.locator(selector)
	_, err := loc.SelectOption(playwright.SelectOptionValues{Labels: playwright.StringSlice(labels...)})
	if err == nil {
		return nil
	}
	// option text did not match, try option values
	if _, verr := loc.SelectOption(playwright.SelectOptionValues{Values: playwright.StringSlice(labels...)}); verr == nil {
		return nil
	}
	return err
}

func (p *playwrightPage) Hover(selector string) error {
	return p.locator(selector).Hover()
}

func (p *playwrightPage) Screenshot(fullPage bool) ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
	})
}

func (p *playwrightPage) PDF() ([]byte, error) { return p.page.PDF() }

func (p *playwrightPage) BringToFront() error { return p.page.BringToFront() }

func (p *playwrightPage) Close() error {
	err := p.page.Close()
	if errors.Is(err, playwright.ErrTargetClosed) {
		return nil
	}
	return err
}

// playwrightContext adapts playwright.BrowserContext to BrowserContext.
// Pages are wrapped once so their request tracking survives.
type playwrightContext struct {
	bctx          playwright.BrowserContext
	browser       playwright.Browser
	downloadsDir  string
	actionTimeout time.Duration
	closed        atomic.Bool

	mu    sync.Mutex
	pages map[playwright.Page]*playwrightPage
}

// WrapPlaywright adapts a Playwright context and its browser. browser may be
// nil for persistent contexts.
func WrapPlaywright(bctx playwright.BrowserContext, browser playwright.Browser, opts SessionOptions) BrowserContext {
	return newPlaywrightContext(bctx, browser, opts)
}

func newPlaywrightContext(bctx playwright.BrowserContext, browser playwright.Browser, opts SessionOptions) *playwrightContext {
	c := &playwrightContext{
		bctx:          bctx,
		browser:       browser,
		downloadsDir:  opts.DownloadsDir,
		actionTimeout: opts.ActionTimeout,
		pages:         make(map[playwright.Page]*playwrightPage),
	}
	bctx.OnClose(func(playwright.BrowserContext) {
		c.closed.Store(true)
	})
	return c
}

// Wrap returns the adapter for a Playwright page of this context.
func (c *playwrightContext) Wrap(p playwright.Page) Page {
	return c.wrap(p)
}

func (c *playwrightContext) wrap(p playwright.Page) *playwrightPage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pp, ok := c.pages[p]; ok {
		return pp
	}
	pp := newPlaywrightPage(p, c.downloadsDir, c.actionTimeout)
	c.pages[p] = pp
	return pp
}

func (c *playwrightContext) NewPage() (Page, error) {
	p, err := c.bctx.NewPage()
	if err != nil {
		return nil, err
	}
	return c.wrap(p), nil
}

func (c *playwrightContext) Pages() []Page {
	raw := c.bctx.Pages()
	out := make([]Page, 0, len(raw))
	for _, p := range raw {
		out = append(out, c.wrap(p))
	}
	return out
}

func (c *playwrightContext) Close() error {
	c.closed.Store(true)
	return c.bctx.Close()
}

func (c *playwrightContext) StartTracing(opts TracingOptions) error {
	return c.bctx.Tracing().Start(playwright.TracingStartOptions{
		Screenshots: playwright.Bool(opts.Screenshots),
		Snapshots:   playwright.Bool(opts.Snapshots),
		Sources:     playwright.Bool(opts.Sources),
	})
}

func (c *playwrightContext) StopTracing(path string) error {
	if path == "" {
		return fmt.Errorf("trace path is required")
	}
	return c.bctx.Tracing().Stop(path)
}

func (c *playwrightContext) IsConnected() bool {
	if c.closed.Load() {
		return false
	}
	return c.browser == nil || c.browser.IsConnected()
}

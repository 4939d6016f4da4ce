// Package browsertest provides in-memory Page and BrowserContext fakes for
// exercising sessions, actions and the agent loop without a browser.
package browsertest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/dom"
)

// ErrClosed is returned by operations on a closed FakePage.
var ErrClosed = errors.New("target page, context or browser has been closed")

// Route is what a FakePage shows after navigating to a URL.
type Route struct {
	Title string
	Probe string
	HTML  string
}

// FakeNetwork is a settable NetworkState.
type FakeNetwork struct {
	mu       sync.Mutex
	inflight int
	last     time.Time
}

// Set replaces the in-flight count and last activity time.
func (n *FakeNetwork) Set(inflight int, last time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inflight, n.last = inflight, last
}

func (n *FakeNetwork) InFlight() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inflight
}

func (n *FakeNetwork) LastActivity() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// FakePage is a scriptable browser.Page. Hook funcs left nil succeed. Hooks
// must be set before the page is shared with a session.
type FakePage struct {
	ClickFunc         func(selector string, opts browser.ClickOptions) error
	DispatchClickFunc func(selector string) error
	BoundingBoxFunc   func(selector string) (*browser.Rect, error)
	TypeFunc          func(selector, text string) error
	PressFunc         func(selector, keys string) error
	SelectOptionFunc  func(selector string, labels []string) error
	HoverFunc         func(selector string) error
	GotoFunc          func(url string) error
	EvaluateFunc      func(expression string, arg any) (any, error)

	mu        sync.Mutex
	url       string
	title     string
	probe     string
	probeErr  error
	html      string
	closed    bool
	history   []string
	routes    map[string]Route
	network   *FakeNetwork
	calls     []string
	typed     map[string]string
	shot      []byte
	pdf       []byte
	downloads []browser.Download
}

// NewPage returns an open page at url with an empty probe result.
func NewPage(url, title string) *FakePage {
	return &FakePage{
		url:    url,
		title:  title,
		probe:  Probe(),
		routes: make(map[string]Route),
		typed:  make(map[string]string),
		shot:   []byte("\x89PNG fake"),
		pdf:    []byte("%PDF-1.4 fake"),
	}
}

// SetProbe sets the payload returned for the DOM probe script.
func (p *FakePage) SetProbe(payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probe = payload
}

// SetProbeError makes the DOM probe fail with err. nil restores it.
func (p *FakePage) SetProbeError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probeErr = err
}

// SetHTML sets what Content returns.
func (p *FakePage) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// SetScreenshot sets what Screenshot returns.
func (p *FakePage) SetScreenshot(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shot = data
}

// SetPDF sets what PDF returns.
func (p *FakePage) SetPDF(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pdf = data
}

// SetNetwork attaches a network state used by settle waits.
func (p *FakePage) SetNetwork(n *FakeNetwork) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.network = n
}

// AddRoute makes navigation to url switch the page to r.
func (p *FakePage) AddRoute(url string, r Route) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[url] = r
}

// AddDownload records a finished download.
func (p *FakePage) AddDownload(d browser.Download) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads = append(p.downloads, d)
}

// Crash closes the page as if its renderer died.
func (p *FakePage) Crash() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Calls returns the operations performed so far, e.g. "click xpath=/html/body/a".
func (p *FakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Typed returns the last text typed into selector.
func (p *FakePage) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

func (p *FakePage) record(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *FakePage) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *FakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePage) Goto(url string, _ time.Duration) error {
	if err := p.record("goto %s", url); err != nil {
		return err
	}
	if p.GotoFunc != nil {
		if err := p.GotoFunc(url); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, p.url)
	p.show(url)
	return nil
}

// show switches to url, applying its route if any. Callers hold mu.
func (p *FakePage) show(url string) {
	p.url = url
	if r, ok := p.routes[url]; ok {
		p.title = r.Title
		p.probe = r.Probe
		p.html = r.HTML
	}
}

func (p *FakePage) Reload(time.Duration) error {
	return p.record("reload")
}

func (p *FakePage) GoBack(time.Duration) error {
	if err := p.record("back"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return nil
	}
	prev := p.history[len(p.history)-1]
	p.history = p.history[:len(p.history)-1]
	p.show(prev)
	return nil
}

func (p *FakePage) Evaluate(expression string, arg any) (any, error) {
	if expression == dom.ProbeScript() {
		if err := p.record("probe"); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.probeErr != nil {
			return nil, p.probeErr
		}
		return p.probe, nil
	}
	if err := p.record("evaluate"); err != nil {
		return nil, err
	}
	if p.EvaluateFunc != nil {
		return p.EvaluateFunc(expression, arg)
	}
	return nil, nil
}

func (p *FakePage) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	return p.html, nil
}

func (p *FakePage) Click(selector string, opts browser.ClickOptions) error {
	if err := p.record("click %s force=%t", selector, opts.Force); err != nil {
		return err
	}
	if p.ClickFunc != nil {
		return p.ClickFunc(selector, opts)
	}
	return nil
}

func (p *FakePage) DispatchClick(selector string) error {
	if err := p.record("dispatch %s", selector); err != nil {
		return err
	}
	if p.DispatchClickFunc != nil {
		return p.DispatchClickFunc(selector)
	}
	return nil
}

func (p *FakePage) BoundingBox(selector string) (*browser.Rect, error) {
	if err := p.record("bbox %s", selector); err != nil {
		return nil, err
	}
	if p.BoundingBoxFunc != nil {
		return p.BoundingBoxFunc(selector)
	}
	return &browser.Rect{X: 10, Y: 10, Width: 20, Height: 10}, nil
}

func (p *FakePage) MouseClick(x, y float64) error {
	return p.record("mouse %.0f,%.0f", x, y)
}

func (p *FakePage) Clear(selector string) error {
	return p.record("clear %s", selector)
}

func (p *FakePage) Type(selector, text string, _ time.Duration) error {
	if err := p.record("type %s %s", selector, text); err != nil {
		return err
	}
	if p.TypeFunc != nil {
		if err := p.TypeFunc(selector, text); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.typed[selector] = text
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Press(selector, keys string) error {
	if err := p.record("press %s %s", selector, keys); err != nil {
		return err
	}
	if p.PressFunc != nil {
		return p.PressFunc(selector, keys)
	}
	return nil
}

func (p *FakePage) SelectOption(selector string, labels []string) error {
	if err := p.record("select %s %v", selector, labels); err != nil {
		return err
	}
	if p.SelectOptionFunc != nil {
		return p.SelectOptionFunc(selector, labels)
	}
	return nil
}

func (p *FakePage) Hover(selector string) error {
	if err := p.record("hover %s", selector); err != nil {
		return err
	}
	if p.HoverFunc != nil {
		return p.HoverFunc(selector)
	}
	return nil
}

func (p *FakePage) Screenshot(fullPage bool) ([]byte, error) {
	if err := p.record("screenshot full=%t", fullPage); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.shot...), nil
}

func (p *FakePage) PDF() ([]byte, error) {
	if err := p.record("pdf"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.pdf...), nil
}

func (p *FakePage) BringToFront() error {
	return p.record("front")
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "close")
	p.closed = true
	return nil
}

func (p *FakePage) Network() browser.NetworkState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.network == nil {
		return nil
	}
	return p.network
}

func (p *FakePage) Downloads() []browser.Download {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Download(nil), p.downloads...)
}

// FakeContext is a browser.BrowserContext holding FakePages.
type FakeContext struct {
	// NewPageErr makes NewPage fail.
	NewPageErr error

	mu           sync.Mutex
	pages        []*FakePage
	disconnected bool
	closed       bool
	tracing      bool
	traces       []string
}

// NewContext returns a connected context containing pages.
func NewContext(pages ...*FakePage) *FakeContext {
	return &FakeContext{pages: pages}
}

func (c *FakeContext) NewPage() (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return nil, ErrClosed
	}
	if c.NewPageErr != nil {
		return nil, c.NewPageErr
	}
	p := NewPage("about:blank", "")
	c.pages = append(c.pages, p)
	return p, nil
}

// Add puts an existing page into the context, as a popup would.
func (c *FakeContext) Add(p *FakePage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = append(c.pages, p)
}

func (c *FakeContext) Pages() []browser.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.Page, 0, len(c.pages))
	for _, p := range c.pages {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

// FakePages returns every page ever added, closed ones included.
func (c *FakeContext) FakePages() []*FakePage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakePage(nil), c.pages...)
}

func (c *FakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.disconnected = true
	return nil
}

// Closed reports whether Close was called.
func (c *FakeContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Disconnect simulates the browser process going away.
func (c *FakeContext) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	for _, p := range c.pages {
		p.Crash()
	}
}

func (c *FakeContext) StartTracing(browser.TracingOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracing = true
	return nil
}

func (c *FakeContext) StopTracing(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracing = false
	c.traces = append(c.traces, path)
	return nil
}

// Traces returns the paths traces were written to.
func (c *FakeContext) Traces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.traces...)
}

func (c *FakeContext) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

// Options returns session options with short settle and probe timings.
func Options() browser.SessionOptions {
	build := dom.DefaultBuildOptions()
	build.Timeout = time.Second
	return browser.SessionOptions{
		Headless: true,
		Settle: browser.SettleOptions{
			Idle: time.Millisecond,
			Max:  50 * time.Millisecond,
			Poll: time.Millisecond,
		},
		Build:     build,
		TypeDelay: time.Millisecond,
	}
}

// NewSession returns a borrowed session over a single fake page.
func NewSession(name string, page *FakePage, opts browser.SessionOptions) (*browser.Session, *FakeContext, error) {
	bctx := NewContext(page)
	s, err := browser.NewSession(name, bctx, page, false, nil, opts)
	return s, bctx, err
}

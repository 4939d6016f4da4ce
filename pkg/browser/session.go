package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/pagepilot/pkg/dom"
	"github.com/entrhq/pagepilot/pkg/logging"
)

var browserLog *logging.Logger

func init() {
	var err error
	browserLog, err = logging.NewLogger("browser")
	if err != nil {
		browserLog.Warnf("Failed to initialize browser logger, using stderr fallback: %v", err)
	}
}

// Default values for session operations
const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultActionTimeout     = 10 * time.Second
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 1100
	DefaultMaxSessions       = 5
	DefaultIdleTimeout       = 5 * time.Minute
)

const pageReplacedAdvisory = "page was replaced after it closed or crashed"

// SessionOptions configures a browser session.
type SessionOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport *Viewport

	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	TypeDelay         time.Duration

	Settle SettleOptions
	Build  dom.BuildOptions

	// AllowedDomains restricts navigation. Empty means unrestricted.
	AllowedDomains []string

	// DownloadsDir is where downloads are saved. Empty disables saving.
	DownloadsDir string

	// TracePath enables context tracing, written on Close.
	TracePath string

	// Metrics, when set, is told about settle timeouts and page replacements.
	Metrics Recorder
}

// Recorder counts session events.
type Recorder interface {
	SettleTimedOut()
	PageReplaced()
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Viewport == nil {
		o.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = DefaultActionTimeout
	}
	if o.TypeDelay <= 0 {
		o.TypeDelay = DefaultTypeDelay
	}
	o.Settle = o.Settle.withDefaults()
	if o.Build.Timeout <= 0 {
		o.Build = dom.DefaultBuildOptions()
	}
	return o
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// PageReplacedFunc is called after a dead page has been swapped for a new one.
type PageReplacedFunc func(replacement Page)

// Session owns one browser tab for an agent: it caches the current snapshot,
// recovers from dead pages and resolves highlight indices.
type Session struct {
	mu sync.Mutex

	name    string
	owned   bool
	opts    SessionOptions
	matcher *DomainMatcher

	context BrowserContext
	page    Page
	// closeBrowser tears down the browser process for owned sessions.
	closeBrowser func() error

	cached     *dom.Snapshot
	lastURL    string
	advisories []string
	replaced   int
	downloads  []Download
	tracing    bool
	closed     bool

	observers []PageReplacedFunc

	createdAt  time.Time
	lastUsedAt time.Time
}

// NewSession wraps an existing context and page. owned controls whether
// Close tears them down; closeBrowser may be nil.
func NewSession(name string, bctx BrowserContext, page Page, owned bool, closeBrowser func() error, opts SessionOptions) (*Session, error) {
	opts = opts.withDefaults()
	matcher, err := NewDomainMatcher(opts.AllowedDomains)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		name:         name,
		owned:        owned,
		opts:         opts,
		matcher:      matcher,
		context:      bctx,
		page:         page,
		closeBrowser: closeBrowser,
		createdAt:    now,
		lastUsedAt:   now,
	}
	if page != nil && isHTTP(page.URL()) {
		s.lastURL = page.URL()
	}
	return s, nil
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Owned reports whether Close tears down the browser.
func (s *Session) Owned() bool { return s.owned }

// Options returns the effective session options.
func (s *Session) Options() SessionOptions { return s.opts }

// Matcher returns the session's domain allow-list.
func (s *Session) Matcher() *DomainMatcher { return s.matcher }

// Page returns the current page, which may be nil or closed.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// CurrentURL returns the URL of the current page.
func (s *Session) CurrentURL() string {
	if p := s.Page(); p != nil && !p.IsClosed() {
		return p.URL()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastURL
}

// IsConnected reports whether the browser context is still usable.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.context != nil && s.context.IsConnected()
}

// OnPageReplaced registers fn to run after page recovery.
func (s *Session) OnPageReplaced(fn PageReplacedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Replacements returns how many times the page has been replaced.
func (s *Session) Replacements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastUsedAt returns the time of the last operation.
func (s *Session) LastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) addAdvisory(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.advisories {
		if a == msg {
			return
		}
	}
	s.advisories = append(s.advisories, msg)
}

// Advisories returns pending human-readable notes about the page.
func (s *Session) Advisories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.advisories...)
}

// DrainAdvisories returns pending notes and clears them.
func (s *Session) DrainAdvisories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.advisories
	s.advisories = nil
	return out
}

// Cached returns the cached snapshot without building one.
func (s *Session) Cached() *dom.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached
}

// Invalidate drops the cached snapshot. Calling it repeatedly is harmless.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// GetSnapshot returns the cached snapshot, building a new one when the cache
// is empty or force is set.
func (s *Session) GetSnapshot(ctx context.Context, force bool) (*dom.Snapshot, error) {
	if !force {
		if snap := s.Cached(); snap != nil {
			return snap, nil
		}
	}

	var snap *dom.Snapshot
	err := s.withPage(ctx, func(p Page) error {
		if err := s.settle(ctx, p); err != nil {
			return err
		}
		if cur := p.URL(); !s.matcher.Allowed(cur) {
			browserLog.Warnf("current url %s is outside the allow-list, leaving page", cur)
			s.addAdvisory(fmt.Sprintf("left %s: domain not allowed", cur))
			if err := p.Goto("about:blank", s.opts.NavigationTimeout); err != nil && isTargetClosed(err) {
				return err
			}
		}

		built, err := dom.Build(ctx, p, s.opts.Build)
		if err != nil {
			return err
		}
		if built.Fallback && p.IsClosed() {
			return errPageGone
		}
		snap = built
		return nil
	})
	if err != nil {
		return nil, err
	}

	snap.Page.Tabs = s.Tabs()
	if isHTTP(snap.Page.URL) {
		s.rememberURL(snap.Page.URL)
	}

	s.mu.Lock()
	s.cached = snap
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
	return snap, nil
}

// ChangeSignature probes the page and hashes its element listing without
// waiting for the network or touching the cache.
func (s *Session) ChangeSignature(ctx context.Context) (string, error) {
	opts := s.opts.Build
	opts.HighlightElements = false

	var sig string
	err := s.withPage(ctx, func(p Page) error {
		snap, err := dom.Build(ctx, p, opts)
		if err != nil {
			return err
		}
		if snap.Fallback && p.IsClosed() {
			return errPageGone
		}
		sig = snap.Signature
		return nil
	})
	return sig, err
}

// Resolve maps a highlight index from the cached snapshot to its element.
func (s *Session) Resolve(index int) (*dom.ElementNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return nil, &ElementNotFoundError{Index: index}
	}
	el, ok := s.cached.SelectorMap[index]
	if !ok || el == nil {
		return nil, &ElementNotFoundError{Index: index}
	}
	return el, nil
}

// locators returns the selectors for the element at index, most specific
// first.
func (s *Session) locators(index int) ([]string, error) {
	el, err := s.Resolve(index)
	if err != nil {
		return nil, err
	}
	return el.Descriptor().Locators(), nil
}

// ClickByIndex clicks the element at index. The cache is invalidated
// whether or not the click succeeds.
func (s *Session) ClickByIndex(ctx context.Context, index int) error {
	defer s.Invalidate()
	sels, err := s.locators(index)
	if err != nil {
		return err
	}
	s.touch()
	return s.withPage(ctx, func(p Page) error {
		return clickElement(p, sels)
	})
}

// TypeByIndex replaces the content of the element at index with text.
func (s *Session) TypeByIndex(ctx context.Context, index int, text string) error {
	defer s.Invalidate()
	sels, err := s.locators(index)
	if err != nil {
		return err
	}
	s.touch()
	return s.withPage(ctx, func(p Page) error {
		return typeText(p, sels, text, s.opts.TypeDelay)
	})
}

// SelectOptionByIndex picks the option labelled text in the select at index.
func (s *Session) SelectOptionByIndex(ctx context.Context, index int, text string) error {
	defer s.Invalidate()
	sels, err := s.locators(index)
	if err != nil {
		return err
	}
	s.touch()
	return s.withPage(ctx, func(p Page) error {
		return selectOption(p, sels, text)
	})
}

// HoverByIndex moves the mouse over the element at index.
func (s *Session) HoverByIndex(ctx context.Context, index int) error {
	defer s.Invalidate()
	sels, err := s.locators(index)
	if err != nil {
		return err
	}
	s.touch()
	return s.withPage(ctx, func(p Page) error {
		return hoverElement(p, sels)
	})
}

// PressKeys sends a key combination to the focused element.
func (s *Session) PressKeys(ctx context.Context, keys string) error {
	defer s.Invalidate()
	s.touch()
	return s.withPage(ctx, func(p Page) error {
		return p.Press("", keys)
	})
}

// Navigate loads url in the current page after checking the allow-list.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.matcher.Check(url); err != nil {
		return err
	}
	defer s.Invalidate()
	s.touch()

	return s.withPage(ctx, func(p Page) error {
		if err := p.Goto(url, s.opts.NavigationTimeout); err != nil {
			return fmt.Errorf("navigation to %s failed: %w", url, err)
		}
		s.rememberURL(p.URL())
		return s.settle(ctx, p)
	})
}

// GoBack navigates back in history.
func (s *Session) GoBack(ctx context.Context) error {
	defer s.Invalidate()
	s.touch()
	return s.withPage(ctx, func(p Page) error {
		if err := p.GoBack(s.opts.NavigationTimeout); err != nil {
			return fmt.Errorf("go back failed: %w", err)
		}
		s.rememberURL(p.URL())
		return s.settle(ctx, p)
	})
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	defer s.Invalidate()
	s.touch()
	return s.withPage(ctx, func(p Page) error {
		if err := p.Reload(s.opts.NavigationTimeout); err != nil {
			return fmt.Errorf("reload failed: %w", err)
		}
		return s.settle(ctx, p)
	})
}

const scrollScript = `(dy) => { window.scrollBy(0, dy); return window.scrollY; }`

// Scroll scrolls the page vertically by dy pixels.
func (s *Session) Scroll(ctx context.Context, dy int) error {
	defer s.Invalidate()
	s.touch()
	return s.withPage(ctx, func(p Page) error {
		_, err := p.Evaluate(scrollScript, dy)
		return err
	})
}

const scrollToTextScript = `(needle) => {
  const lower = needle.toLowerCase();
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
  for (let n = walker.nextNode(); n; n = walker.nextNode()) {
    if ((n.textContent || "").toLowerCase().includes(lower) && n.parentElement) {
      n.parentElement.scrollIntoView({ block: "center" });
      return true;
    }
  }
  return false;
}`

// ScrollToText scrolls the first element containing text into view.
// It reports whether any match was found.
func (s *Session) ScrollToText(ctx context.Context, text string) (bool, error) {
	defer s.Invalidate()
	s.touch()
	var found bool
	err := s.withPage(ctx, func(p Page) error {
		v, err := p.Evaluate(scrollToTextScript, text)
		if err != nil {
			return err
		}
		found, _ = v.(bool)
		return nil
	})
	return found, err
}

// Screenshot captures the current viewport, or the whole page.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var data []byte
	err := s.withPage(ctx, func(p Page) error {
		var err error
		data, err = p.Screenshot(fullPage)
		return err
	})
	return data, err
}

// PDF renders the current page as a PDF document.
func (s *Session) PDF(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.withPage(ctx, func(p Page) error {
		var err error
		data, err = p.PDF()
		return err
	})
	return data, err
}

// Content returns the page HTML.
func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	err := s.withPage(ctx, func(p Page) error {
		var err error
		html, err = p.Content()
		return err
	})
	return html, err
}

// Downloads returns files downloaded so far by any page of the session.
func (s *Session) Downloads() []Download {
	s.mu.Lock()
	out := append([]Download(nil), s.downloads...)
	bctx := s.context
	s.mu.Unlock()

	if bctx == nil {
		return out
	}
	for _, p := range bctx.Pages() {
		if src, ok := p.(DownloadSource); ok {
			out = append(out, src.Downloads()...)
		}
	}
	return out
}

// StartTracing starts context tracing; the trace is written by StopTracing
// or Close.
func (s *Session) StartTracing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracing || s.context == nil {
		return nil
	}
	if err := s.context.StartTracing(TracingOptions{Screenshots: true, Snapshots: true, Sources: true}); err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	s.tracing = true
	return nil
}

// StopTracing writes the trace to path, or to the configured trace path.
func (s *Session) StopTracing(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracing || s.context == nil {
		return nil
	}
	if path == "" {
		path = s.opts.TracePath
	}
	s.tracing = false
	if err := s.context.StopTracing(path); err != nil {
		return fmt.Errorf("failed to stop tracing: %w", err)
	}
	return nil
}

// Close detaches the session. Owned sessions also close their page, context
// and browser; borrowed ones leave the caller's objects running.
func (s *Session) Close(ctx context.Context) error {
	return s.shutdown(true)
}

// Kill tears the session down without saving traces, ignoring errors.
func (s *Session) Kill() {
	_ = s.shutdown(false)
}

func (s *Session) shutdown(saveTrace bool) error {
	if saveTrace && s.opts.TracePath != "" {
		if err := s.StopTracing(""); err != nil {
			browserLog.Warnf("session %s: %v", s.name, err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.tracing = false
	page, bctx, closeBrowser, owned := s.page, s.context, s.closeBrowser, s.owned
	s.page = nil
	s.cached = nil
	s.mu.Unlock()

	if !owned {
		browserLog.Debugf("session %s detached (borrowed)", s.name)
		return nil
	}

	var errs []string
	if page != nil && !page.IsClosed() {
		if err := page.Close(); err != nil && !isTargetClosed(err) {
			errs = append(errs, err.Error())
		}
	}
	if bctx != nil {
		if err := bctx.Close(); err != nil && !isTargetClosed(err) {
			errs = append(errs, err.Error())
		}
	}
	if closeBrowser != nil {
		if err := closeBrowser(); err != nil && !isTargetClosed(err) {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 && saveTrace {
		return fmt.Errorf("errors closing session %s: %s", s.name, strings.Join(errs, "; "))
	}
	return nil
}

func (s *Session) settle(ctx context.Context, p Page) error {
	res, err := waitForSettle(ctx, p, s.opts.Settle)
	if err != nil {
		return err
	}
	if res.timedOut {
		browserLog.Debugf("settle wait on %s hit %s", p.URL(), s.opts.Settle.Max)
		s.addAdvisory(loadingAdvisory(s.opts.Settle.Max))
		if s.opts.Metrics != nil {
			s.opts.Metrics.SettleTimedOut()
		}
	}
	return nil
}

func (s *Session) rememberURL(u string) {
	if !isHTTP(u) {
		return
	}
	s.mu.Lock()
	s.lastURL = u
	s.mu.Unlock()
}

func isHTTP(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

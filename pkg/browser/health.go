package browser

import (
	"context"
	"fmt"
)

// withPage runs op against a live page. A missing or dead page is replaced
// first; if op itself fails because the page died, the page is replaced and
// op retried once.
func (s *Session) withPage(ctx context.Context, op func(Page) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	page, _, err := s.livePage(ctx)
	if err != nil {
		return err
	}

	err = op(page)
	if err == nil || IsLifecycleError(err) || ctx.Err() != nil {
		return err
	}
	if !page.IsClosed() && !isTargetClosed(err) {
		return err
	}

	browserLog.Warnf("session %s: page died during operation (%v), replacing", s.name, err)
	page, err = s.replacePage(ctx)
	if err != nil {
		return err
	}
	return op(page)
}

// EnsureAlive makes sure the session has an open page, replacing a dead one.
func (s *Session) EnsureAlive(ctx context.Context) (bool, error) {
	_, replaced, err := s.livePage(ctx)
	return replaced, err
}

func (s *Session) livePage(ctx context.Context) (Page, bool, error) {
	s.mu.Lock()
	closed, bctx, page := s.closed, s.context, s.page
	s.mu.Unlock()

	if closed || bctx == nil || !bctx.IsConnected() {
		return nil, false, ErrBrowserClosed
	}
	if page != nil && !page.IsClosed() {
		return page, false, nil
	}

	replacement, err := s.replacePage(ctx)
	if err != nil {
		return nil, false, err
	}
	return replacement, true, nil
}

// replacePage adopts the first open page of the context, or opens a new one,
// and brings it back to the last visited http(s) URL.
func (s *Session) replacePage(ctx context.Context) (Page, error) {
	s.mu.Lock()
	bctx, old, lastURL := s.context, s.page, s.lastURL
	s.mu.Unlock()

	if bctx == nil || !bctx.IsConnected() {
		return nil, ErrBrowserClosed
	}

	var replacement Page
	for _, p := range bctx.Pages() {
		if p != nil && !p.IsClosed() && p != old {
			replacement = p
			break
		}
	}
	if replacement == nil {
		p, err := bctx.NewPage()
		if err != nil {
			if !bctx.IsConnected() {
				return nil, ErrBrowserClosed
			}
			return nil, fmt.Errorf("failed to open replacement page: %w", err)
		}
		replacement = p
	}

	if lastURL != "" && replacement.URL() != lastURL {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := replacement.Goto(lastURL, s.opts.NavigationTimeout); err != nil {
			browserLog.Warnf("session %s: replacement page could not reload %s: %v", s.name, lastURL, err)
		}
	}

	s.mu.Lock()
	if src, ok := old.(DownloadSource); ok && old != nil {
		s.downloads = append(s.downloads, src.Downloads()...)
	}
	s.page = replacement
	s.cached = nil
	s.replaced++
	observers := append([]PageReplacedFunc(nil), s.observers...)
	s.mu.Unlock()

	s.addAdvisory(pageReplacedAdvisory)
	if s.opts.Metrics != nil {
		s.opts.Metrics.PageReplaced()
	}
	browserLog.Infof("session %s: page replaced (now %s)", s.name, replacement.URL())

	for _, fn := range observers {
		notifyReplaced(fn, replacement)
	}
	return replacement, nil
}

func notifyReplaced(fn PageReplacedFunc, p Page) {
	defer func() {
		if r := recover(); r != nil {
			browserLog.Errorf("page replaced observer panicked: %v", r)
		}
	}()
	fn(p)
}

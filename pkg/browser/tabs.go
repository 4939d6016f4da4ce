package browser

import (
	"context"
	"fmt"

	"github.com/entrhq/pagepilot/pkg/dom"
)

func (s *Session) openPages() []Page {
	s.mu.Lock()
	bctx := s.context
	s.mu.Unlock()
	if bctx == nil {
		return nil
	}
	var out []Page
	for _, p := range bctx.Pages() {
		if p != nil && !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

// Tabs lists the open pages of the context. IDs are positions in this list.
func (s *Session) Tabs() []dom.TabInfo {
	pages := s.openPages()
	tabs := make([]dom.TabInfo, 0, len(pages))
	for i, p := range pages {
		title, _ := p.Title()
		tabs = append(tabs, dom.TabInfo{ID: i, URL: p.URL(), Title: title})
	}
	return tabs
}

func (s *Session) tab(id int) (Page, error) {
	pages := s.openPages()
	if id < 0 || id >= len(pages) {
		return nil, fmt.Errorf("tab %d does not exist (%d open)", id, len(pages))
	}
	return pages[id], nil
}

// SwitchTab makes tab id the current page.
func (s *Session) SwitchTab(ctx context.Context, id int) error {
	if _, _, err := s.livePage(ctx); err != nil {
		return err
	}
	p, err := s.tab(id)
	if err != nil {
		return err
	}
	if err := p.BringToFront(); err != nil {
		return fmt.Errorf("failed to focus tab %d: %w", id, err)
	}

	s.mu.Lock()
	s.page = p
	s.cached = nil
	s.mu.Unlock()
	s.rememberURL(p.URL())
	return nil
}

// OpenTab opens url in a new page and makes it current.
func (s *Session) OpenTab(ctx context.Context, url string) error {
	if err := s.matcher.Check(url); err != nil {
		return err
	}
	if _, _, err := s.livePage(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	bctx := s.context
	s.mu.Unlock()

	p, err := bctx.NewPage()
	if err != nil {
		if !bctx.IsConnected() {
			return ErrBrowserClosed
		}
		return fmt.Errorf("failed to open tab: %w", err)
	}

	s.mu.Lock()
	s.page = p
	s.cached = nil
	s.mu.Unlock()

	if url == "" || IsNewTabURL(url) {
		return nil
	}
	return s.Navigate(ctx, url)
}

// CloseTab closes tab id. Closing the current tab switches to the first
// remaining one.
func (s *Session) CloseTab(ctx context.Context, id int) error {
	defer s.Invalidate()
	p, err := s.tab(id)
	if err != nil {
		return err
	}

	current := s.Page()
	if err := p.Close(); err != nil && !isTargetClosed(err) {
		return fmt.Errorf("failed to close tab %d: %w", id, err)
	}
	if p != current {
		return nil
	}

	remaining := s.openPages()
	if len(remaining) == 0 {
		s.mu.Lock()
		bctx := s.context
		s.mu.Unlock()
		fresh, err := bctx.NewPage()
		if err != nil {
			if !bctx.IsConnected() {
				return ErrBrowserClosed
			}
			return fmt.Errorf("failed to open page after closing last tab: %w", err)
		}
		remaining = []Page{fresh}
	}

	s.mu.Lock()
	s.page = remaining[0]
	s.mu.Unlock()
	s.rememberURL(remaining[0].URL())
	return remaining[0].BringToFront()
}

package browser_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/browser/browsertest"
)

const sel = "xpath=/html/body/button[1]"

func TestClickElementFallbackChain(t *testing.T) {
	errBlocked := errors.New("element is covered by another element")

	tests := []struct {
		name      string
		setup     func(p *browsertest.FakePage)
		wantErr   string
		wantCalls []string
	}{
		{
			name:      "plain click",
			setup:     func(p *browsertest.FakePage) {},
			wantCalls: []string{"click " + sel + " force=false"},
		},
		{
			name: "force click after plain click fails",
			setup: func(p *browsertest.FakePage) {
				p.ClickFunc = func(_ string, opts browser.ClickOptions) error {
					if !opts.Force {
						return errBlocked
					}
					return nil
				}
			},
			wantCalls: []string{"click " + sel + " force=false", "click " + sel + " force=true"},
		},
		{
			name: "mouse click at box center",
			setup: func(p *browsertest.FakePage) {
				p.ClickFunc = func(string, browser.ClickOptions) error { return errBlocked }
				p.DispatchClickFunc = func(string) error { return errBlocked }
			},
			wantCalls: []string{
				"click " + sel + " force=false",
				"click " + sel + " force=true",
				"dispatch " + sel,
				"bbox " + sel,
				"mouse 20,15",
			},
		},
		{
			name: "every strategy fails",
			setup: func(p *browsertest.FakePage) {
				p.ClickFunc = func(string, browser.ClickOptions) error { return errBlocked }
				p.DispatchClickFunc = func(string) error { return errBlocked }
				p.BoundingBoxFunc = func(string) (*browser.Rect, error) { return nil, nil }
			},
			wantErr: "all click strategies failed",
		},
		{
			name: "closed target stops the chain",
			setup: func(p *browsertest.FakePage) {
				p.ClickFunc = func(string, browser.ClickOptions) error { return browsertest.ErrClosed }
			},
			wantErr:   "has been closed",
			wantCalls: []string{"click " + sel + " force=false"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage("https://example.com", "")
			tt.setup(page)

			err := browser.ClickElement(page, []string{sel})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.wantCalls != nil {
				assert.Equal(t, tt.wantCalls, page.Calls())
			}
		})
	}
}

func TestTypeTextClearsFirst(t *testing.T) {
	page := browsertest.NewPage("https://example.com", "")

	require.NoError(t, browser.TypeText(page, []string{sel}, "hello", 0))
	assert.Equal(t, []string{"clear " + sel, "type " + sel + " hello"}, page.Calls())
	assert.Equal(t, "hello", page.Typed(sel))
}

func TestTypeTextReportsFailure(t *testing.T) {
	page := browsertest.NewPage("https://example.com", "")
	page.TypeFunc = func(string, string) error { return errors.New("not editable") }

	err := browser.TypeText(page, []string{sel}, "hello", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not editable")
}

// rejectXPath makes every xpath= selector on page fail, as it does when the
// document changed under a stale structural path.
func rejectXPath(page *browsertest.FakePage) {
	errStale := errors.New("no element matches selector")
	stale := func(selector string) error {
		if strings.HasPrefix(selector, "xpath=") {
			return errStale
		}
		return nil
	}
	page.ClickFunc = func(selector string, _ browser.ClickOptions) error { return stale(selector) }
	page.DispatchClickFunc = stale
	page.BoundingBoxFunc = func(selector string) (*browser.Rect, error) {
		if err := stale(selector); err != nil {
			return nil, err
		}
		return &browser.Rect{Width: 10, Height: 10}, nil
	}
	page.TypeFunc = func(selector, _ string) error { return stale(selector) }
	page.SelectOptionFunc = func(selector string, _ []string) error { return stale(selector) }
	page.HoverFunc = stale
}

func TestClickElementFallsBackToCSS(t *testing.T) {
	page := browsertest.NewPage("https://example.com", "")
	rejectXPath(page)

	require.NoError(t, browser.ClickElement(page, []string{sel, "css=button#buy", "button"}))
	assert.Equal(t, []string{
		"click " + sel + " force=false",
		"click " + sel + " force=true",
		"dispatch " + sel,
		"bbox " + sel,
		"click css=button#buy force=false",
	}, page.Calls())
}

func TestClickElementReportsLastLocator(t *testing.T) {
	page := browsertest.NewPage("https://example.com", "")
	page.ClickFunc = func(string, browser.ClickOptions) error { return errors.New("covered") }
	page.DispatchClickFunc = func(string) error { return errors.New("covered") }
	page.BoundingBoxFunc = func(string) (*browser.Rect, error) { return nil, nil }

	err := browser.ClickElement(page, []string{sel, "css=button#buy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "css=button#buy")

	require.Error(t, browser.ClickElement(page, nil))
}

func TestTypeTextFallsBackToCSS(t *testing.T) {
	page := browsertest.NewPage("https://example.com", "")
	rejectXPath(page)

	require.NoError(t, browser.TypeText(page, []string{sel, "css=input#q"}, "hello", 0))
	assert.Equal(t, "hello", page.Typed("css=input#q"))
	assert.Empty(t, page.Typed(sel))
}

func TestIndexActionsFallBackWhenXPathIsStale(t *testing.T) {
	ctx := context.Background()
	s, page, _ := newTestSession(t,
		browsertest.Element{Tag: "button", Text: "Buy", Attributes: map[string]string{"id": "buy"}},
		browsertest.Element{Tag: "select", Attributes: map[string]string{"id": "size"}},
		browsertest.Element{Tag: "input", Attributes: map[string]string{"id": "q"}},
	)
	rejectXPath(page)

	refresh := func() {
		_, err := s.GetSnapshot(ctx, true)
		require.NoError(t, err)
	}

	refresh()
	require.NoError(t, s.ClickByIndex(ctx, 0))
	assert.Contains(t, page.Calls(), "click css=button#buy force=false")

	refresh()
	require.NoError(t, s.SelectOptionByIndex(ctx, 1, "Large"))
	assert.Contains(t, page.Calls(), "select css=select#size [Large]")

	refresh()
	require.NoError(t, s.TypeByIndex(ctx, 2, "shoes"))
	assert.Equal(t, "shoes", page.Typed("css=input#q"))

	refresh()
	require.NoError(t, s.HoverByIndex(ctx, 0))
	assert.Contains(t, page.Calls(), "hover css=button#buy")
}

func TestIsTargetClosed(t *testing.T) {
	assert.True(t, browser.IsTargetClosed(browsertest.ErrClosed))
	assert.True(t, browser.IsTargetClosed(errors.New("Page crashed")))
	assert.False(t, browser.IsTargetClosed(errors.New("timeout 30000ms exceeded")))
	assert.False(t, browser.IsTargetClosed(nil))
	assert.False(t, browser.IsLifecycleError(browsertest.ErrClosed))
	assert.True(t, browser.IsLifecycleError(browser.ErrBrowserClosed))
}

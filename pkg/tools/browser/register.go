package browser

import (
	"context"
	"errors"

	"github.com/entrhq/pagepilot/pkg/actions"
	pagebrowser "github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/dom"
	"github.com/entrhq/pagepilot/pkg/logging"
)

var toolsLog *logging.Logger

func init() {
	var err error
	toolsLog, err = logging.NewLogger("tools.browser")
	if err != nil {
		toolsLog.Warnf("Failed to initialize browser tools logger, using stderr fallback: %v", err)
	}
}

// DefaultSearchURL is the search engine used by the search action. The
// query is appended URL-encoded.
const DefaultSearchURL = "https://duckduckgo.com/?q="

// Controller is the session surface the page actions drive.
type Controller interface {
	actions.SessionHandle

	CurrentURL() string
	Options() pagebrowser.SessionOptions

	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	Reload(ctx context.Context) error

	ClickByIndex(ctx context.Context, index int) error
	TypeByIndex(ctx context.Context, index int, text string) error
	SelectOptionByIndex(ctx context.Context, index int, text string) error
	HoverByIndex(ctx context.Context, index int) error
	PressKeys(ctx context.Context, keys string) error

	Scroll(ctx context.Context, dy int) error
	ScrollToText(ctx context.Context, text string) (bool, error)

	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	PDF(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)

	Tabs() []dom.TabInfo
	SwitchTab(ctx context.Context, id int) error
	OpenTab(ctx context.Context, url string) error
	CloseTab(ctx context.Context, id int) error
}

var _ Controller = (*pagebrowser.Session)(nil)

var errNoSession = errors.New("no browser session in execution context")

func controller(ectx *actions.ExecutionContext) (Controller, error) {
	if ectx == nil || ectx.Session == nil {
		return nil, errNoSession
	}
	c, ok := ectx.Session.(Controller)
	if !ok {
		return nil, errNoSession
	}
	return c, nil
}

// Options configures the page actions.
type Options struct {
	// SearchURL prefixes the URL-encoded query of the search action.
	SearchURL string
	// ExtractMaxLength bounds extract_content output, in characters.
	ExtractMaxLength int
	// ScreenshotDir is the workspace-relative directory screenshots are
	// saved to when the run has a workspace.
	ScreenshotDir string
}

func (o Options) withDefaults() Options {
	if o.SearchURL == "" {
		o.SearchURL = DefaultSearchURL
	}
	if o.ExtractMaxLength <= 0 {
		o.ExtractMaxLength = pagebrowser.DefaultExtractMaxLength
	}
	if o.ScreenshotDir == "" {
		o.ScreenshotDir = "screenshots"
	}
	return o
}

// Register adds every page action to reg, grouped by feature area.
func Register(reg *actions.Registry, opts Options) error {
	opts = opts.withDefaults()
	groups := [][]actions.Descriptor{
		navigationActions(opts),
		interactionActions(),
		scrollActions(),
		contentActions(opts),
		tabActions(),
	}
	for _, group := range groups {
		for _, d := range group {
			if err := reg.Register(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// Shared parameter definitions. Aliases cover the names models commonly
// use instead of the canonical ones.
var (
	indexParam = actions.Property{
		Type:        actions.TypeInteger,
		Description: "Index of the element in the page state",
		Minimum:     actions.Min(0),
		Aliases:     []string{"element_index", "idx", "element_id", "id"},
	}
	urlParam = actions.Property{
		Type:        actions.TypeString,
		Description: "Absolute URL including the scheme",
		Aliases:     []string{"link", "href"},
	}
	textParam = actions.Property{
		Type:    actions.TypeString,
		Aliases: []string{"value", "input", "content"},
	}
	tabParam = actions.Property{
		Type:        actions.TypeInteger,
		Description: "Tab id from the page state",
		Minimum:     actions.Min(0),
		Aliases:     []string{"tab_id", "page_id", "id"},
	}
)

func withDescription(p actions.Property, desc string) actions.Property {
	p.Description = desc
	return p
}

package dom

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/entrhq/pagepilot/pkg/logging"
)

var domLog *logging.Logger

func init() {
	var err error
	domLog, err = logging.NewLogger("dom")
	if err != nil {
		domLog.Warnf("Failed to initialize dom logger, using stderr fallback: %v", err)
	}
}

//go:embed probe.js
var probeScript string

// ProbeScript returns the page-side snapshot script.
func ProbeScript() string { return probeScript }

// Evaluator is the page capability the builder needs.
type Evaluator interface {
	Evaluate(expression string, arg any) (any, error)
	URL() string
	Title() (string, error)
}

// BuildOptions tune the probe.
type BuildOptions struct {
	HighlightElements bool
	// ViewportExpansion is how far outside the viewport, in pixels, elements
	// still get an index. Negative means the whole page.
	ViewportExpansion int
	IncludeHidden     bool
	// MaxTextLength is the default per-element text limit used when rendering.
	MaxTextLength int
	StripComments bool
	StripScripts  bool
	StripStyles   bool
	Timeout       time.Duration
}

// DefaultBuildOptions returns the standard probe settings.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		HighlightElements: true,
		ViewportExpansion: 500,
		MaxTextLength:     100,
		StripComments:     true,
		StripScripts:      true,
		StripStyles:       true,
		Timeout:           10 * time.Second,
	}
}

var errNoRoot = errors.New("probe returned no root element")

// probe payload, decoded with encoding/json
type rawProbe struct {
	RootID   *string            `json:"rootId"`
	Map      map[string]rawNode `json:"map"`
	Viewport struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"viewport"`
	Page struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"page"`
	Scroll struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"scroll"`
	IsPDFViewer bool `json:"isPDFViewer"`
}

type rawNode struct {
	Type           string            `json:"type"`
	Text           string            `json:"text"`
	TagName        string            `json:"tagName"`
	Attributes     map[string]string `json:"attributes"`
	XPath          string            `json:"xpath"`
	Children       []string          `json:"children"`
	IsVisible      bool              `json:"isVisible"`
	IsInteractive  bool              `json:"isInteractive"`
	IsTopElement   bool              `json:"isTopElement"`
	IsInViewport   bool              `json:"isInViewport"`
	HighlightIndex *int              `json:"highlightIndex"`
	ShadowRoot     bool              `json:"shadowRoot"`
	Frames         []string          `json:"frames"`
}

// Build runs the probe on the page and assembles a Snapshot.
//
// Probe failures never surface as errors: a fallback snapshot is returned
// instead, with the reason in Page.BrowserErrors. The error return is only
// non-nil when ctx is done.
func Build(ctx context.Context, page Evaluator, opts BuildOptions) (*Snapshot, error) {
	url := page.URL()
	title, _ := page.Title()

	raw, err := runProbe(ctx, page, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		domLog.Warnf("probe failed on %s: %v", url, err)
		return FallbackSnapshot(url, title, err.Error()), nil
	}

	snap, err := assemble(raw, url, title, opts)
	if err != nil {
		domLog.Warnf("could not assemble snapshot for %s: %v", url, err)
		return FallbackSnapshot(url, title, err.Error()), nil
	}
	return snap, nil
}

func runProbe(ctx context.Context, page Evaluator, opts BuildOptions) (*rawProbe, error) {
	args := map[string]any{
		"highlight":         opts.HighlightElements,
		"viewportExpansion": opts.ViewportExpansion,
		"includeHidden":     opts.IncludeHidden,
		"stripComments":     opts.StripComments,
		"stripScripts":      opts.StripScripts,
		"stripStyles":       opts.StripStyles,
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultBuildOptions().Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := page.Evaluate(probeScript, args)
		done <- result{v, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("probe timed out after %s: %w", timeout, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("probe evaluation failed: %w", res.err)
	}

	var payload []byte
	switch v := res.v.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	case nil:
		return nil, errNoRoot
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unexpected probe result %T: %w", v, err)
		}
		payload = b
	}

	var raw rawProbe
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode probe result: %w", err)
	}
	return &raw, nil
}

func assemble(raw *rawProbe, url, title string, opts BuildOptions) (*Snapshot, error) {
	if raw.RootID == nil {
		return nil, errNoRoot
	}
	rootRaw, ok := raw.Map[*raw.RootID]
	if !ok || rootRaw.Type == "TEXT_NODE" {
		return nil, errNoRoot
	}

	visited := make(map[string]bool, len(raw.Map))
	root := buildElement(*raw.RootID, rootRaw, nil, raw.Map, visited)

	selectors := make(SelectorMap)
	walkElements(root, func(el *ElementNode) {
		if el.HighlightIndex == nil {
			return
		}
		idx := *el.HighlightIndex
		if !el.IsVisible || !el.IsInteractive {
			domLog.Warnf("dropping index %d (<%s>): not visible and interactive", idx, el.TagName)
			el.HighlightIndex = nil
			return
		}
		if _, dup := selectors[idx]; dup {
			domLog.Warnf("dropping duplicate index %d (<%s>)", idx, el.TagName)
			el.HighlightIndex = nil
			return
		}
		selectors[idx] = el
	})

	vh := round(raw.Viewport.Height)
	vw := round(raw.Viewport.Width)
	ph := round(raw.Page.Height)
	pw := round(raw.Page.Width)
	sx := round(raw.Scroll.X)
	sy := round(raw.Scroll.Y)

	snap := &Snapshot{
		Root:        root,
		SelectorMap: selectors,
		Page: PageInfo{
			URL:            url,
			Title:          title,
			ViewportWidth:  vw,
			ViewportHeight: vh,
			PageWidth:      pw,
			PageHeight:     ph,
			ScrollX:        sx,
			ScrollY:        sy,
			PixelsAbove:    max(0, sy),
			PixelsBelow:    max(0, ph-(sy+vh)),
			PixelsLeft:     max(0, sx),
			PixelsRight:    max(0, pw-(sx+vw)),
			IsPDFViewer:    raw.IsPDFViewer,
		},
		Timestamp: time.Now(),
		textLimit: opts.MaxTextLength,
	}
	snap.Signature = Signature(snap.ElementsText())

	domLog.Debugf("built snapshot for %s: %d nodes, %d indexed", url, len(visited), len(selectors))
	return snap, nil
}

func buildElement(id string, r rawNode, parent *ElementNode, all map[string]rawNode, visited map[string]bool) *ElementNode {
	visited[id] = true
	el := &ElementNode{
		TagName:        r.TagName,
		Attributes:     r.Attributes,
		XPath:          r.XPath,
		IsVisible:      r.IsVisible,
		IsInteractive:  r.IsInteractive,
		IsTopElement:   r.IsTopElement,
		IsInViewport:   r.IsInViewport,
		HighlightIndex: r.HighlightIndex,
		ShadowRoot:     r.ShadowRoot,
		Frames:         r.Frames,
		Parent:         parent,
	}
	if el.Attributes == nil {
		el.Attributes = map[string]string{}
	}

	for _, childID := range r.Children {
		if visited[childID] {
			continue
		}
		child, ok := all[childID]
		if !ok {
			continue
		}
		if child.Type == "TEXT_NODE" {
			visited[childID] = true
			el.Children = append(el.Children, &TextNode{
				Text:      child.Text,
				IsVisible: child.IsVisible,
				Parent:    el,
			})
			continue
		}
		el.Children = append(el.Children, buildElement(childID, child, el, all, visited))
	}
	return el
}

// walkElements visits every element in document order.
func walkElements(root *ElementNode, fn func(*ElementNode)) {
	if root == nil {
		return
	}
	fn(root)
	for _, c := range root.Children {
		if el, ok := c.(*ElementNode); ok {
			walkElements(el, fn)
		}
	}
}

func round(f float64) int {
	return int(math.Round(f))
}

// FallbackSnapshot returns the minimal snapshot used when the probe fails:
// an empty body that is itself the only addressable element, index 0.
func FallbackSnapshot(url, title, reason string) *Snapshot {
	zero := 0
	root := &ElementNode{
		TagName:        "body",
		Attributes:     map[string]string{},
		XPath:          "/html/body",
		IsVisible:      true,
		IsInteractive:  true,
		IsTopElement:   true,
		IsInViewport:   true,
		HighlightIndex: &zero,
	}
	snap := &Snapshot{
		Root:        root,
		SelectorMap: SelectorMap{0: root},
		Page: PageInfo{
			URL:   url,
			Title: title,
		},
		Timestamp: time.Now(),
		Fallback:  true,
		textLimit: DefaultBuildOptions().MaxTextLength,
	}
	if reason != "" {
		snap.Page.BrowserErrors = []string{reason}
	}
	snap.Signature = Signature(snap.ElementsText())
	return snap
}

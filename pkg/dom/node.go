package dom

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Node is a member of the snapshot tree: either *ElementNode or *TextNode.
type Node interface {
	// ParentElement returns the enclosing element, or nil for the root.
	ParentElement() *ElementNode
	// Visible reports whether the node was rendered when the snapshot was taken.
	Visible() bool
}

// ElementNode is an element captured by the probe.
type ElementNode struct {
	TagName    string            `json:"tagName"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Children   []Node            `json:"-"`
	XPath      string            `json:"xpath"`

	IsVisible     bool `json:"isVisible"`
	IsInteractive bool `json:"isInteractive"`
	IsTopElement  bool `json:"isTopElement"`
	IsInViewport  bool `json:"isInViewport"`

	// HighlightIndex is set only for elements addressable by index.
	HighlightIndex *int `json:"highlightIndex,omitempty"`
	ShadowRoot     bool `json:"shadowRoot,omitempty"`
	// Frames holds the xpaths of enclosing iframes, outermost first. XPath
	// is relative to the innermost frame's document, and empty inside a
	// shadow root.
	Frames []string `json:"frames,omitempty"`

	Parent *ElementNode `json:"-"`
}

// ParentElement implements Node.
func (e *ElementNode) ParentElement() *ElementNode { return e.Parent }

// Visible implements Node.
func (e *ElementNode) Visible() bool { return e.IsVisible }

// Indexed reports whether the element carries a highlight index.
func (e *ElementNode) Indexed() bool { return e.HighlightIndex != nil }

// Index returns the highlight index, or -1 when the element has none.
func (e *ElementNode) Index() int {
	if e.HighlightIndex == nil {
		return -1
	}
	return *e.HighlightIndex
}

// TextNode is a run of text inside an element.
type TextNode struct {
	Text      string       `json:"text"`
	IsVisible bool         `json:"isVisible"`
	Parent    *ElementNode `json:"-"`
}

// ParentElement implements Node.
func (t *TextNode) ParentElement() *ElementNode { return t.Parent }

// Visible implements Node.
func (t *TextNode) Visible() bool { return t.IsVisible }

// hasIndexedAncestor reports whether any element above n carries an index.
func hasIndexedAncestor(n Node) bool {
	for p := n.ParentElement(); p != nil; p = p.Parent {
		if p.HighlightIndex != nil {
			return true
		}
	}
	return false
}

// TabInfo describes one open page in the browser context.
type TabInfo struct {
	ID    int    `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// PageInfo is the page-level metadata captured alongside the tree.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`

	ViewportWidth  int `json:"viewportWidth"`
	ViewportHeight int `json:"viewportHeight"`
	PageWidth      int `json:"pageWidth"`
	PageHeight     int `json:"pageHeight"`
	ScrollX        int `json:"scrollX"`
	ScrollY        int `json:"scrollY"`

	PixelsAbove int `json:"pixelsAbove"`
	PixelsBelow int `json:"pixelsBelow"`
	PixelsLeft  int `json:"pixelsLeft"`
	PixelsRight int `json:"pixelsRight"`

	Tabs          []TabInfo `json:"tabs,omitempty"`
	IsPDFViewer   bool      `json:"isPdfViewer"`
	BrowserErrors []string  `json:"browserErrors,omitempty"`
}

// Snapshot is an immutable view of a page at one point in time.
type Snapshot struct {
	Root        *ElementNode
	SelectorMap SelectorMap
	Page        PageInfo
	Timestamp   time.Time
	// Signature is the hash of ElementsText; see Signature().
	Signature string
	// Fallback is set when the probe failed and the tree is synthetic.
	Fallback bool

	textLimit int
}

// SelectorMap maps highlight indices to their elements.
type SelectorMap map[int]*ElementNode

// Indices returns the map keys in ascending order.
func (m SelectorMap) Indices() []int {
	out := make([]int, 0, len(m))
	for i := range m {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Descriptor returns a locator descriptor for the element at index.
func (m SelectorMap) Descriptor(index int) (ElementDescriptor, bool) {
	el, ok := m[index]
	if !ok || el == nil {
		return ElementDescriptor{}, false
	}
	return el.Descriptor(), true
}

// ElementDescriptor is enough information to find an element again on the
// live page.
type ElementDescriptor struct {
	XPath       string
	CSSSelector string
	TagName     string
	Frames      []string
}

var cssIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Descriptor builds an ElementDescriptor for the element.
func (e *ElementNode) Descriptor() ElementDescriptor {
	return ElementDescriptor{
		XPath:       e.XPath,
		CSSSelector: cssSelector(e),
		TagName:     e.TagName,
		Frames:      e.Frames,
	}
}

func cssSelector(e *ElementNode) string {
	if e.TagName == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.TagName)
	if id := e.Attributes["id"]; id != "" && cssIdent.MatchString(id) {
		b.WriteString("#")
		b.WriteString(id)
		return b.String()
	}
	for _, attr := range []string{"name", "type"} {
		if v := e.Attributes[attr]; v != "" {
			fmt.Fprintf(&b, "[%s=%q]", attr, v)
		}
	}
	return b.String()
}

// Locator returns the preferred driver selector: xpath, then css, then tag.
func (d ElementDescriptor) Locator() string {
	if l := d.Locators(); len(l) > 0 {
		return l[0]
	}
	return ""
}

// Locators returns every driver selector for the element, most specific
// first: xpath, css, then the bare tag. Empty parts are skipped, and the tag
// is left out when the css selector is nothing more than the tag. Elements
// inside iframes get selectors that enter each frame first.
func (d ElementDescriptor) Locators() []string {
	var out []string
	if d.XPath != "" {
		out = append(out, "xpath="+d.XPath)
	}
	if d.CSSSelector != "" {
		out = append(out, "css="+d.CSSSelector)
	}
	if d.TagName != "" && d.TagName != d.CSSSelector {
		out = append(out, d.TagName)
	}
	if prefix := d.framePrefix(); prefix != "" {
		for i := range out {
			out[i] = prefix + out[i]
		}
	}
	return out
}

// enterFrame is the selector step that moves into an iframe's document.
const enterFrame = " >> internal:control=enter-frame >> "

func (d ElementDescriptor) framePrefix() string {
	var b strings.Builder
	for _, f := range d.Frames {
		if f == "" {
			return ""
		}
		b.WriteString("xpath=")
		b.WriteString(f)
		b.WriteString(enterFrame)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (d ElementDescriptor) String() string {
	return d.Locator()
}

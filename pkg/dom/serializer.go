package dom

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultIncludeAttributes are the attributes rendered for indexed elements.
var DefaultIncludeAttributes = []string{
	"title",
	"type",
	"checked",
	"name",
	"role",
	"value",
	"placeholder",
	"data-date-format",
	"alt",
	"aria-label",
	"aria-expanded",
	"data-state",
	"aria-checked",
}

// RenderOptions control Snapshot.Render.
type RenderOptions struct {
	IncludeAttributes []string
	// MaxChars bounds the whole rendering. Zero means unbounded.
	MaxChars int
	// MaxTextLength bounds each element's text. Zero uses the snapshot's
	// build-time default.
	MaxTextLength int
}

// DefaultRenderOptions returns the standard rendering settings.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		IncludeAttributes: DefaultIncludeAttributes,
		MaxChars:          40000,
	}
}

// Render serializes the snapshot for the decision source: scroll markers
// around one line per indexed element or free text run.
func (s *Snapshot) Render(opts RenderOptions) string {
	var b strings.Builder
	b.WriteString(s.prefixMarker())
	b.WriteString("\n")
	if body := s.elements(opts); body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	b.WriteString(s.suffixMarker())

	return truncate(b.String(), opts.MaxChars)
}

// ElementsText is the unbounded element listing without scroll markers.
// The change signature is computed over it.
func (s *Snapshot) ElementsText() string {
	return s.elements(RenderOptions{IncludeAttributes: DefaultIncludeAttributes})
}

// Signature hashes an element listing. Equal listings give equal signatures.
func Signature(elementsText string) string {
	sum := sha256.Sum256([]byte(elementsText))
	return hex.EncodeToString(sum[:])
}

func (s *Snapshot) elements(opts RenderOptions) string {
	if s == nil || s.Root == nil {
		return ""
	}
	attrs := opts.IncludeAttributes
	if attrs == nil {
		attrs = DefaultIncludeAttributes
	}
	limit := opts.MaxTextLength
	if limit <= 0 {
		limit = s.textLimit
	}

	var lines []string
	var visit func(n Node)
	visit = func(n Node) {
		switch node := n.(type) {
		case *ElementNode:
			if node.HighlightIndex != nil {
				lines = append(lines, renderElement(node, attrs, limit))
			}
			for _, c := range node.Children {
				visit(c)
			}
		case *TextNode:
			if !node.IsVisible || node.Parent == nil || !node.Parent.IsVisible {
				return
			}
			if hasIndexedAncestor(node) {
				return
			}
			if text := strings.TrimSpace(node.Text); text != "" {
				lines = append(lines, text)
			}
		}
	}
	visit(s.Root)

	return strings.Join(lines, "\n")
}

func renderElement(el *ElementNode, include []string, limit int) string {
	text := clip(ownText(el), limit)

	var b strings.Builder
	fmt.Fprintf(&b, "[%d]<%s", *el.HighlightIndex, el.TagName)
	for _, name := range include {
		v, ok := el.Attributes[name]
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" || v == text {
			continue
		}
		fmt.Fprintf(&b, " %s=%s", name, clip(v, limit))
	}
	b.WriteString(">")
	b.WriteString(text)
	fmt.Fprintf(&b, "</%s>", el.TagName)
	return b.String()
}

// ownText collects the visible text below el, stopping at nested indexed
// elements which render on their own lines.
func ownText(el *ElementNode) string {
	var parts []string
	var visit func(n Node)
	visit = func(n Node) {
		switch node := n.(type) {
		case *ElementNode:
			if node != el && node.HighlightIndex != nil {
				return
			}
			for _, c := range node.Children {
				visit(c)
			}
		case *TextNode:
			if node.IsVisible {
				if t := strings.TrimSpace(node.Text); t != "" {
					parts = append(parts, t)
				}
			}
		}
	}
	visit(el)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func clip(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "..."
}

func (s *Snapshot) prefixMarker() string {
	if s.Page.PixelsAbove > 0 {
		return fmt.Sprintf("... %d pixels above (%s pages) - scroll up to see more ...",
			s.Page.PixelsAbove, pages(s.Page.PixelsAbove, s.Page.ViewportHeight))
	}
	return "[Start of page]"
}

func (s *Snapshot) suffixMarker() string {
	if s.Page.PixelsBelow > 0 {
		return fmt.Sprintf("... %d pixels below (%s pages) - scroll down to see more ...",
			s.Page.PixelsBelow, pages(s.Page.PixelsBelow, s.Page.ViewportHeight))
	}
	return "[End of page]"
}

func pages(pixels, viewport int) string {
	if viewport <= 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(pixels)/float64(viewport))
}

func truncate(s string, maxChars int) string {
	total := utf8.RuneCountInString(s)
	if maxChars <= 0 || total <= maxChars {
		return s
	}
	r := []rune(s)
	return fmt.Sprintf("%s\n[Content truncated: %d of %d characters shown]", string(r[:maxChars]), maxChars, total)
}

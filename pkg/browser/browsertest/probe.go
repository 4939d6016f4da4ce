package browsertest

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Element is one child of the fake page body.
type Element struct {
	Tag        string
	Text       string
	Attributes map[string]string
	// Hidden elements are neither visible nor indexed.
	Hidden bool
	// Static elements are visible text containers without an index.
	Static bool
}

// Button returns a visible, clickable button.
func Button(text string) Element { return Element{Tag: "button", Text: text} }

// Link returns a visible anchor.
func Link(text, href string) Element {
	return Element{Tag: "a", Text: text, Attributes: map[string]string{"href": href}}
}

// Input returns a visible text input.
func Input(name string) Element {
	return Element{Tag: "input", Attributes: map[string]string{"name": name, "type": "text"}}
}

// Paragraph returns static visible text.
func Paragraph(text string) Element { return Element{Tag: "p", Text: text, Static: true} }

// Probe renders a DOM probe payload for a body holding elements in order.
// Interactive visible elements get highlight indices 0, 1, 2... and XPaths
// of the form /html/body/<tag>[n].
func Probe(elements ...Element) string {
	return ProbeScrolled(0, 1000, elements...)
}

// ProbeScrolled is Probe with a scroll offset and page height.
func ProbeScrolled(scrollY, pageHeight int, elements ...Element) string {
	nodes := map[string]any{}
	var bodyChildren []string
	next := 1
	newID := func() string {
		id := strconv.Itoa(next)
		next++
		return id
	}

	counts := map[string]int{}
	index := 0
	for _, el := range elements {
		counts[el.Tag]++
		id := newID()
		bodyChildren = append(bodyChildren, id)

		var children []string
		if el.Text != "" {
			tid := newID()
			nodes[tid] = map[string]any{"type": "TEXT_NODE", "text": el.Text, "isVisible": !el.Hidden}
			children = append(children, tid)
		}

		interactive := !el.Static && !el.Hidden
		var highlight any
		if interactive {
			highlight = index
			index++
		}
		attrs := el.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		nodes[id] = map[string]any{
			"tagName":        el.Tag,
			"attributes":     attrs,
			"xpath":          fmt.Sprintf("/html/body/%s[%d]", el.Tag, counts[el.Tag]),
			"children":       children,
			"isVisible":      !el.Hidden,
			"isInteractive":  interactive,
			"isTopElement":   !el.Hidden,
			"isInViewport":   true,
			"highlightIndex": highlight,
		}
	}

	nodes["0"] = map[string]any{
		"tagName":       "body",
		"attributes":    map[string]string{},
		"xpath":         "/html/body",
		"children":      bodyChildren,
		"isVisible":     true,
		"isInteractive": false,
		"isTopElement":  true,
		"isInViewport":  true,
	}

	b, err := json.Marshal(map[string]any{
		"rootId":      "0",
		"map":         nodes,
		"viewport":    map[string]any{"width": 1280, "height": 1000},
		"page":        map[string]any{"width": 1280, "height": pageHeight},
		"scroll":      map[string]any{"x": 0, "y": scrollY},
		"isPDFViewer": false,
	})
	if err != nil {
		panic(err)
	}
	return string(b)
}

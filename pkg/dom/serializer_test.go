package dom

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// tree builds a small snapshot by hand:
//
//	<body>
//	  Welcome
//	  [0]<a title=Home>Home</a>
//	  <div hidden>secret</div>
//	  [1]<button><span>Save</span>[2]<input placeholder=Name></button>
//	</body>
func tree() *Snapshot {
	body := &ElementNode{TagName: "body", IsVisible: true, Attributes: map[string]string{}}
	add := func(parent *ElementNode, n Node) {
		switch v := n.(type) {
		case *ElementNode:
			v.Parent = parent
		case *TextNode:
			v.Parent = parent
		}
		parent.Children = append(parent.Children, n)
	}

	add(body, &TextNode{Text: "Welcome", IsVisible: true})

	link := &ElementNode{TagName: "a", IsVisible: true, IsInteractive: true, HighlightIndex: intp(0),
		Attributes: map[string]string{"title": "Home", "href": "/"}}
	add(body, link)
	add(link, &TextNode{Text: "Home", IsVisible: true})

	hidden := &ElementNode{TagName: "div", Attributes: map[string]string{}}
	add(body, hidden)
	add(hidden, &TextNode{Text: "secret", IsVisible: false})

	btn := &ElementNode{TagName: "button", IsVisible: true, IsInteractive: true, HighlightIndex: intp(1),
		Attributes: map[string]string{}}
	add(body, btn)
	span := &ElementNode{TagName: "span", IsVisible: true, Attributes: map[string]string{}}
	add(btn, span)
	add(span, &TextNode{Text: "Save", IsVisible: true})
	input := &ElementNode{TagName: "input", IsVisible: true, IsInteractive: true, HighlightIndex: intp(2),
		Attributes: map[string]string{"placeholder": "Name", "class": "x"}}
	add(btn, input)

	return &Snapshot{
		Root:        body,
		SelectorMap: SelectorMap{0: link, 1: btn, 2: input},
		Page:        PageInfo{ViewportHeight: 1000},
		textLimit:   100,
	}
}

func TestElementsText(t *testing.T) {
	got := tree().ElementsText()
	want := strings.Join([]string{
		"Welcome",
		"[0]<a>Home</a>",
		"[1]<button>Save</button>",
		"[2]<input placeholder=Name></input>",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestRenderMarkers(t *testing.T) {
	tests := []struct {
		name         string
		above, below int
		wantPrefix   string
		wantSuffix   string
	}{
		{"whole page", 0, 0, "[Start of page]", "[End of page]"},
		{
			"scrolled middle", 1500, 2500,
			"... 1500 pixels above (1.5 pages) - scroll up to see more ...",
			"... 2500 pixels below (2.5 pages) - scroll down to see more ...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tree()
			s.Page.PixelsAbove = tt.above
			s.Page.PixelsBelow = tt.below

			out := s.Render(DefaultRenderOptions())
			lines := strings.Split(out, "\n")
			assert.Equal(t, tt.wantPrefix, lines[0])
			assert.Equal(t, tt.wantSuffix, lines[len(lines)-1])
		})
	}
}

func TestRenderTruncation(t *testing.T) {
	s := tree()
	full := s.Render(RenderOptions{})

	out := s.Render(RenderOptions{MaxChars: 20})
	assert.True(t, strings.HasPrefix(out, full[:20]))
	assert.True(t, strings.HasSuffix(out, fmt.Sprintf("[Content truncated: 20 of %d characters shown]", len(full))))
}

func TestRenderTextLimit(t *testing.T) {
	s := tree()
	s.SelectorMap[0].Children[0].(*TextNode).Text = "A very long link label"

	out := s.Render(RenderOptions{MaxTextLength: 6})
	assert.Contains(t, out, "[0]<a title=Home>A very...</a>")
}

func TestRenderAttributeAllowList(t *testing.T) {
	out := tree().Render(RenderOptions{IncludeAttributes: []string{"class"}})
	assert.Contains(t, out, "[2]<input class=x></input>")
	assert.NotContains(t, out, "placeholder")
}

func TestSignatureChangesWithVisibleText(t *testing.T) {
	a := tree()
	b := tree()
	assert.Equal(t, a.ElementsText(), b.ElementsText())
	assert.Equal(t, Signature(a.ElementsText()), Signature(b.ElementsText()))

	b.Root.Children = append(b.Root.Children, &TextNode{Text: "New banner", IsVisible: true, Parent: b.Root})
	assert.NotEqual(t, Signature(a.ElementsText()), Signature(b.ElementsText()))
}

func TestSignatureIgnoresScroll(t *testing.T) {
	a := tree()
	b := tree()
	b.Page.PixelsAbove = 400
	assert.Equal(t, Signature(a.ElementsText()), Signature(b.ElementsText()))
	assert.NotEqual(t, a.Render(DefaultRenderOptions()), b.Render(DefaultRenderOptions()))
}

func TestFallbackSnapshotRender(t *testing.T) {
	s := FallbackSnapshot("about:blank", "", "probe failed")
	require.True(t, s.Fallback)
	assert.Equal(t, "[0]<body></body>", s.ElementsText())
	assert.Equal(t, Signature(s.ElementsText()), s.Signature)
}

func TestSignatureProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		texts := rapid.SliceOfN(rapid.StringMatching(`[a-zA-Z0-9 ]{1,20}`), 0, 8).Draw(t, "texts")
		extra := rapid.StringMatching(`[a-z]{1,10}`).Draw(t, "extra")

		build := func() *Snapshot {
			body := &ElementNode{TagName: "body", IsVisible: true, Attributes: map[string]string{}}
			for _, tx := range texts {
				body.Children = append(body.Children, &TextNode{Text: tx, IsVisible: true, Parent: body})
			}
			return &Snapshot{Root: body, SelectorMap: SelectorMap{}}
		}

		a, b := build(), build()
		if Signature(a.ElementsText()) != Signature(b.ElementsText()) {
			t.Fatalf("equal pages produced different signatures")
		}

		b.Root.Children = append(b.Root.Children, &TextNode{Text: extra, IsVisible: true, Parent: b.Root})
		if Signature(a.ElementsText()) == Signature(b.ElementsText()) {
			t.Fatalf("appending %q did not change the signature", extra)
		}
	})
}

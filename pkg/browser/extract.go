package browser

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ExtractFormat selects how page content is rendered for the model.
type ExtractFormat string

const (
	// FormatMarkdown renders sanitized HTML as Markdown (default)
	FormatMarkdown ExtractFormat = "markdown"

	// FormatText keeps visible text only
	FormatText ExtractFormat = "text"

	// FormatHTML keeps cleaned HTML with an attribute allow-list
	FormatHTML ExtractFormat = "html"
)

// DefaultExtractMaxLength caps extracted content, in characters.
const DefaultExtractMaxLength = 20000

// ParseExtractFormat maps a user-supplied name to a format. Empty means
// markdown.
func ParseExtractFormat(s string) (ExtractFormat, error) {
	switch ExtractFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatMarkdown:
		return FormatMarkdown, nil
	case FormatText:
		return FormatText, nil
	case FormatHTML:
		return FormatHTML, nil
	}
	return "", fmt.Errorf("invalid format %q (must be markdown, text or html)", s)
}

// Extraction is page content rendered in one format.
type Extraction struct {
	Format      ExtractFormat `json:"format"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	Content     string        `json:"content"`
	Truncated   bool          `json:"truncated"`
	// Total is the rune length before truncation.
	Total int `json:"total"`
}

var (
	mdOnce      sync.Once
	mdConverter *converter.Converter
	mdPolicy    *bluemonday.Policy
)

func markdownTools() (*converter.Converter, *bluemonday.Policy) {
	mdOnce.Do(func() {
		mdConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
		mdPolicy = bluemonday.UGCPolicy()
		mdPolicy.SkipElementsContent("title", "noscript", "template")
	})
	return mdConverter, mdPolicy
}

// ExtractContent renders rawHTML from pageURL in the given format. Relative
// links in Markdown output are resolved against pageURL. maxLength <= 0 uses
// DefaultExtractMaxLength.
func ExtractContent(rawHTML, pageURL string, format ExtractFormat, maxLength int) (*Extraction, error) {
	if maxLength <= 0 {
		maxLength = DefaultExtractMaxLength
	}
	if format == "" {
		format = FormatMarkdown
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	out := &Extraction{
		Format:      format,
		Title:       documentTitle(doc),
		Description: metaDescription(doc),
	}

	var content string
	switch format {
	case FormatMarkdown:
		conv, policy := markdownTools()
		clean := policy.Sanitize(rawHTML)
		if isHTTP(pageURL) {
			content, err = conv.ConvertString(clean, converter.WithDomain(pageURL))
		} else {
			content, err = conv.ConvertString(clean)
		}
		if err != nil {
			return nil, fmt.Errorf("markdown conversion failed: %w", err)
		}
	case FormatText:
		content = visibleText(doc)
	case FormatHTML:
		var b strings.Builder
		writeCleanHTML(&b, doc, 0)
		content = b.String()
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	content = strings.TrimSpace(content)
	out.Total = utf8.RuneCountInString(content)
	out.Content, out.Truncated = truncateContent(content, maxLength)
	return out, nil
}

func truncateContent(s string, max int) (string, bool) {
	total := utf8.RuneCountInString(s)
	if total <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]) + fmt.Sprintf("\n\n[Content truncated: %d of %d characters shown]", max, total), true
}

// droppedElements never contribute content.
var droppedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
	"head":     true,
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"fieldset": true, "figcaption": true, "figure": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"main": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "td": true, "th": true, "tr": true,
	"ul": true,
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// visibleText flattens the body to lines of text, one per block.
func visibleText(doc *html.Node) string {
	var lines []string
	var cur strings.Builder

	flush := func() {
		if line := strings.Join(strings.Fields(cur.String()), " "); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode:
			return
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
			return
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if droppedElements[tag] {
				return
			}
			if blockElements[tag] {
				flush()
				defer flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	flush()
	return strings.Join(lines, "\n")
}

// writeCleanHTML re-emits n without noise elements or comments, keeping
// only attributes useful for targeting.
func writeCleanHTML(b *strings.Builder, n *html.Node, depth int) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			b.WriteString(html.EscapeString(text))
		}
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeCleanHTML(b, c, depth)
		}
		return
	}

	tag := strings.ToLower(n.Data)
	if droppedElements[tag] {
		return
	}
	// html/body wrappers add nothing
	if tag == "html" || tag == "body" {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeCleanHTML(b, c, depth)
		}
		return
	}

	block := blockElements[tag]
	if block && b.Len() > 0 {
		b.WriteByte('\n')
		b.WriteString(strings.Repeat("  ", depth))
	}
	b.WriteByte('<')
	b.WriteString(tag)
	for _, attr := range n.Attr {
		if keepAttribute(tag, strings.ToLower(attr.Key)) {
			fmt.Fprintf(b, ` %s="%s"`, strings.ToLower(attr.Key), html.EscapeString(attr.Val))
		}
	}
	b.WriteByte('>')
	if voidElements[tag] {
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeCleanHTML(b, c, depth+1)
	}
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteByte('>')
}

var globalAttributes = map[string]bool{
	"id":               true,
	"class":            true,
	"role":             true,
	"title":            true,
	"aria-label":       true,
	"aria-describedby": true,
}

func keepAttribute(tag, attr string) bool {
	if globalAttributes[attr] || strings.HasPrefix(attr, "data-") {
		return true
	}
	switch tag {
	case "a":
		return attr == "href"
	case "img":
		return attr == "src" || attr == "alt"
	case "input", "textarea", "select", "option":
		return attr == "name" || attr == "type" || attr == "placeholder" || attr == "value"
	case "button":
		return attr == "type" || attr == "name"
	case "form":
		return attr == "action" || attr == "method"
	}
	return false
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func documentTitle(doc *html.Node) string {
	n := findElement(doc, func(n *html.Node) bool { return n.Data == "title" })
	if n == nil || n.FirstChild == nil || n.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func metaDescription(doc *html.Node) string {
	n := findElement(doc, func(n *html.Node) bool {
		return n.Data == "meta" && strings.EqualFold(attrValue(n, "name"), "description")
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(attrValue(n, "content"))
}

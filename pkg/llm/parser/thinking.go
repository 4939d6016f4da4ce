// Package parser turns raw model output into structured decisions: it
// separates <thinking> blocks from content and repairs malformed JSON.
package parser

import (
	"strings"

	"github.com/entrhq/pagepilot/pkg/llm"
)

var (
	openTags  = []string{"<thinking>", "<think>"}
	closeTags = []string{"</thinking>", "</think>"}
)

// ThinkingParser splits streamed content into thinking and message chunks.
// Tags may be split across chunks; a trailing partial tag is held back until
// the next chunk decides it.
type ThinkingParser struct {
	pending    string
	inThinking bool
}

// NewThinkingParser creates a new thinking parser.
func NewThinkingParser() *ThinkingParser {
	return &ThinkingParser{}
}

// Parse consumes one content delta. Either returned chunk may be nil.
func (p *ThinkingParser) Parse(content string) (thinkingChunk, messageChunk *llm.StreamChunk) {
	p.pending += content
	var thinking, message strings.Builder

	for {
		out := &message
		tags := openTags
		if p.inThinking {
			out = &thinking
			tags = closeTags
		}

		if i, tag := indexTag(p.pending, tags); i >= 0 {
			out.WriteString(p.pending[:i])
			p.pending = p.pending[i+len(tag):]
			p.inThinking = !p.inThinking
			continue
		}

		keep := partialTagSuffix(p.pending, tags)
		out.WriteString(p.pending[:len(p.pending)-keep])
		p.pending = p.pending[len(p.pending)-keep:]
		break
	}
	return newChunk(thinking.String(), true), newChunk(message.String(), false)
}

// Flush emits held-back content at the end of a stream.
func (p *ThinkingParser) Flush() (thinkingChunk, messageChunk *llm.StreamChunk) {
	rest := p.pending
	p.pending = ""
	if p.inThinking {
		return newChunk(rest, true), nil
	}
	return nil, newChunk(rest, false)
}

// IsInThinking returns true if currently parsing thinking content.
func (p *ThinkingParser) IsInThinking() bool {
	return p.inThinking
}

// Reset resets the parser state for a new stream.
func (p *ThinkingParser) Reset() {
	p.pending = ""
	p.inThinking = false
}

// StripThinking removes complete and unterminated thinking blocks from a
// finished response.
func StripThinking(s string) string {
	p := NewThinkingParser()
	_, msg := p.Parse(s)
	_, tail := p.Flush()
	var b strings.Builder
	if msg != nil {
		b.WriteString(msg.Content)
	}
	if tail != nil {
		b.WriteString(tail.Content)
	}
	return b.String()
}

func newChunk(text string, thinking bool) *llm.StreamChunk {
	if text == "" {
		return nil
	}
	return &llm.StreamChunk{Content: text, Thinking: thinking}
}

func indexTag(s string, tags []string) (int, string) {
	best, bestTag := -1, ""
	for _, t := range tags {
		if i := strings.Index(s, t); i >= 0 && (best < 0 || i < best) {
			best, bestTag = i, t
		}
	}
	return best, bestTag
}

// partialTagSuffix returns the length of the longest suffix of s that is a
// proper prefix of one of tags.
func partialTagSuffix(s string, tags []string) int {
	longest := 0
	for _, t := range tags {
		for n := len(t) - 1; n > longest; n-- {
			if strings.HasSuffix(s, t[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}

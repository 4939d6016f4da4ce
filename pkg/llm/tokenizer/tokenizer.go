// Package tokenizer counts prompt tokens for budgeting.
package tokenizer

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/pagepilot/pkg/types"
)

// Encoding is the tiktoken encoding used for counting.
const Encoding = "cl100k_base"

// ImageTokens is the flat cost charged per image part.
const ImageTokens = 800

// perMessageOverhead covers role and separator tokens.
const perMessageOverhead = 4

// Tokenizer counts tokens with tiktoken, or estimates them at one token per
// four characters when the encoding could not be loaded.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the cl100k_base encoding.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", Encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Estimator returns a Tokenizer that only estimates.
func Estimator() *Tokenizer {
	return &Tokenizer{}
}

// Exact reports whether counts come from tiktoken.
func (t *Tokenizer) Exact() bool {
	return t != nil && t.enc != nil
}

// CountTokens returns the token count of text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if !t.Exact() {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessagesTokens returns the token count of a prompt.
func (t *Tokenizer) CountMessagesTokens(messages []*types.Message) int {
	total := 3
	for _, m := range messages {
		if m == nil {
			continue
		}
		total += perMessageOverhead + t.CountTokens(string(m.Role)) + t.CountTokens(m.Text())
		for _, p := range m.Parts {
			if p.Type == types.PartImage {
				total += ImageTokens
			}
		}
	}
	return total
}

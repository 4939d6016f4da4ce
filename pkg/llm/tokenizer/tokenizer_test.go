package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/pagepilot/pkg/types"
)

func TestEstimator(t *testing.T) {
	tok := Estimator()
	assert.False(t, tok.Exact())

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tok.CountTokens(tt.text), "text %q", tt.text)
	}
}

func TestNilTokenizerEstimates(t *testing.T) {
	var tok *Tokenizer
	assert.Equal(t, 2, tok.CountTokens("12345678"))
}

func TestCountMessagesTokens(t *testing.T) {
	tok := Estimator()
	text := types.NewUserMessage(strings.Repeat("a", 40))
	image := types.NewImageMessage(strings.Repeat("a", 40), "iVBORw0KGgo=")

	plain := tok.CountMessagesTokens([]*types.Message{text})
	withImage := tok.CountMessagesTokens([]*types.Message{image})

	assert.Equal(t, ImageTokens, withImage-plain)
	assert.Greater(t, tok.CountMessagesTokens([]*types.Message{text, text}), plain)
}

func TestTiktokenCounts(t *testing.T) {
	tok, err := New()
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	assert.True(t, tok.Exact())
	assert.Equal(t, 0, tok.CountTokens(""))
	n := tok.CountTokens("Click the search button and type golang.")
	assert.Greater(t, n, 3)
	assert.Less(t, n, 20)
}

package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClassification(t *testing.T) {
	c := DefaultClassification()

	for _, name := range []string{"wait", "scroll", "scroll_to_text", "screenshot", "done", "extract_content", "save_pdf", "read_file", "write_file", "append_file", "replace_file_str"} {
		assert.True(t, c.IsSafe(name), name)
	}
	for _, name := range []string{"click", "type", "send_keys", "navigate", "go_back", "select_option", "open_tab", "hover", "never_heard_of_it"} {
		assert.False(t, c.IsSafe(name), name)
	}
}

func TestClassificationOverride(t *testing.T) {
	base := DefaultClassification()
	c := base.Override([]string{"hover"}, []string{"scroll", "hover_twice"})

	assert.True(t, c.IsSafe("hover"))
	assert.False(t, c.IsSafe("scroll"))
	// the base table is untouched
	assert.True(t, base.IsSafe("scroll"))
	assert.False(t, base.IsSafe("hover"))
}

func TestParseClassification(t *testing.T) {
	c, err := ParseClassification([]byte("safe: [a, b]\nmutating: [c]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.Safe())

	_, err = ParseClassification([]byte("safe: [a]\nmutating: [a]\n"))
	assert.Error(t, err)

	_, err = ParseClassification([]byte("safe: {"))
	assert.Error(t, err)
}

func TestNilClassificationIsAllMutating(t *testing.T) {
	var c *Classification
	assert.False(t, c.IsSafe("scroll"))
}

package browser_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagepilot/pkg/browser"
)

const articleHTML = `<html>
<head>
  <title>Release Notes</title>
  <meta name="description" content="What changed in 2.0">
  <script>alert('evil');</script>
  <style>body { color: red; }</style>
</head>
<body>
  <!-- build 1234 -->
  <h1 id="top" onclick="steal()">Version 2.0</h1>
  <p class="intro">Faster <a href="/docs/perf">snapshots</a>.</p>
  <noscript>Enable JavaScript</noscript>
  <form action="/subscribe" method="post">
    <input type="email" name="email" placeholder="you@example.com" data-test="email" style="x">
  </form>
</body>
</html>`

func TestExtractContentFormats(t *testing.T) {
	tests := []struct {
		name    string
		format  browser.ExtractFormat
		want    []string
		wantNot []string
	}{
		{
			name:    "markdown",
			format:  browser.FormatMarkdown,
			want:    []string{"# Version 2.0", "[snapshots](https://example.com/docs/perf)"},
			wantNot: []string{"alert", "color: red", "Enable JavaScript", "Release Notes", "build 1234"},
		},
		{
			name:    "text",
			format:  browser.FormatText,
			want:    []string{"Version 2.0\nFaster snapshots ."},
			wantNot: []string{"alert", "color: red", "Enable JavaScript", "Release Notes", "build 1234", "<"},
		},
		{
			name:   "html",
			format: browser.FormatHTML,
			want: []string{
				`<h1 id="top">Version 2.0</h1>`,
				`<a href="/docs/perf">snapshots</a>`,
				`<form action="/subscribe" method="post">`,
				`data-test="email"`,
				`placeholder="you@example.com"`,
			},
			wantNot: []string{"onclick", "style=", "<script", "<noscript", "build 1234", "<body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := browser.ExtractContent(articleHTML, "https://example.com/notes", tt.format, 0)
			require.NoError(t, err)

			assert.Equal(t, tt.format, got.Format)
			assert.Equal(t, "Release Notes", got.Title)
			assert.Equal(t, "What changed in 2.0", got.Description)
			assert.False(t, got.Truncated)
			for _, s := range tt.want {
				assert.Contains(t, got.Content, s)
			}
			for _, s := range tt.wantNot {
				assert.NotContains(t, got.Content, s)
			}
		})
	}
}

func TestExtractContentTruncates(t *testing.T) {
	body := "<p>" + strings.Repeat("é", 300) + "</p>"

	got, err := browser.ExtractContent(body, "", browser.FormatText, 100)
	require.NoError(t, err)

	assert.True(t, got.Truncated)
	assert.Equal(t, 300, got.Total)
	assert.True(t, strings.HasPrefix(got.Content, strings.Repeat("é", 100)+"\n\n"))
	assert.Contains(t, got.Content, "[Content truncated: 100 of 300 characters shown]")
}

func TestParseExtractFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    browser.ExtractFormat
		wantErr bool
	}{
		{"", browser.FormatMarkdown, false},
		{"Markdown", browser.FormatMarkdown, false},
		{" text ", browser.FormatText, false},
		{"html", browser.FormatHTML, false},
		{"structured", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := browser.ParseExtractFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

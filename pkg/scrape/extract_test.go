package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>  Widget Docs  </title><style>body{}</style></head>
<body>
<nav><a href="/">Home</a></nav>
<header>Site header</header>
<main>
  <h1>Getting Started</h1>
  <p>Install the   <code>widget</code> CLI.</p>
  <ul><li>Fast</li><li>Small</li></ul>
  <pre><code>go install example.com/widget@latest
widget init</code></pre>
  <script>alert("x")</script>
  <h2>Configure</h2>
  <p>Edit <strong>widget.yaml</strong>.</p>
  <img src="a.png" alt="diagram">
</main>
<footer>Copyright</footer>
</body>
</html>`

func TestExtractHTML(t *testing.T) {
	title, text, err := ExtractHTML(samplePage)
	require.NoError(t, err)

	assert.Equal(t, "Widget Docs", title)
	assert.Contains(t, text, "# Getting Started")
	assert.Contains(t, text, "## Configure")
	assert.Contains(t, text, "Install the `widget` CLI.")
	assert.Contains(t, text, "- Fast")
	assert.Contains(t, text, "```\ngo install example.com/widget@latest\nwidget init\n```")
	assert.Contains(t, text, "[Image: diagram]")

	for _, dropped := range []string{"Home", "Site header", "Copyright", "alert", "body{}"} {
		assert.NotContains(t, text, dropped)
	}
	assert.NotContains(t, text, "\n\n\n")
}

func TestExtractHTMLTitleFallsBackToH1(t *testing.T) {
	title, _, err := ExtractHTML(`<html><body><h1>Only Heading</h1><p>text</p></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "Only Heading", title)
}

func TestExtractHTMLWithoutMain(t *testing.T) {
	_, text, err := ExtractHTML(`<html><body><div><p>alpha</p><p>beta</p></div></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "alpha\n\nbeta", strings.TrimSpace(text))
}

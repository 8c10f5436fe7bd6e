package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHTMLStripsScriptsAndStyles(t *testing.T) {
	doc := `<html><head><title>Shop</title><style>body{color:red}</style></head>
	<body><script>var x = 1;</script><h1>Ethiopia Natural</h1>
	<p>Rostningsdatum 2026-08-20</p><noscript>enable js</noscript></body></html>`

	out := sanitizeHTML(doc, maxPageTextBytes)

	assert.Contains(t, out, "Ethiopia Natural")
	assert.Contains(t, out, "Rostningsdatum 2026-08-20")
	assert.NotContains(t, out, "var x")
	assert.NotContains(t, out, "color:red")
	assert.NotContains(t, out, "enable js")
	// head content (title) is dropped with the rest of the non-content tags
	assert.NotContains(t, out, "Shop")
}

func TestSanitizeHTMLCollapsesWhitespace(t *testing.T) {
	doc := "<body><p>a\n\n   b</p>\t<p>c</p></body>"
	assert.Equal(t, "a b c", sanitizeHTML(doc, 100))
}

func TestSanitizeHTMLBounded(t *testing.T) {
	doc := "<body><p>" + strings.Repeat("word ", 5000) + "</p></body>"
	out := sanitizeHTML(doc, maxPageTextBytes)
	assert.LessOrEqual(t, len(out), maxPageTextBytes)
	assert.NotEmpty(t, out)
}

func TestSanitizeHTMLEmptyInput(t *testing.T) {
	assert.Equal(t, "", sanitizeHTML("", 100))
}

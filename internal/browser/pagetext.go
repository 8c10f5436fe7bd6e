package browser

import (
	"strings"

	"golang.org/x/net/html"
)

// sanitizeHTML extracts visible text from an HTML document, dropping script,
// style and other non-content elements, collapsing whitespace, and bounding
// the output at maxBytes.
func sanitizeHTML(doc string, maxBytes int) string {
	tokenizer := html.NewTokenizer(strings.NewReader(doc))

	var out strings.Builder
	skipDepth := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return collapseWhitespace(out.String(), maxBytes)
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isNonContentTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isNonContentTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text != "" {
				out.WriteString(text)
				out.WriteByte(' ')
			}
			if out.Len() > maxBytes*2 {
				return collapseWhitespace(out.String(), maxBytes)
			}
		}
	}
}

func isNonContentTag(name string) bool {
	switch name {
	case "script", "style", "noscript", "template", "svg", "iframe", "head":
		return true
	}
	return false
}

func collapseWhitespace(s string, maxBytes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxBytes {
		s = s[:maxBytes]
	}
	return strings.TrimSpace(s)
}

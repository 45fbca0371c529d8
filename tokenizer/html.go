package tokenizer

import (
	"strings"

	"golang.org/x/net/html"
)

var skippedHTMLElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// StripHTML extracts the visible text of an HTML fragment or document.
// Text nodes are joined with single spaces; script and style bodies are
// dropped. Text without markup is returned with whitespace collapsed.
func StripHTML(s string) (string, error) {
	if !strings.ContainsRune(s, '<') {
		return strings.Join(strings.Fields(html.UnescapeString(s)), " "), nil
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return "", err
	}

	var parts []string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skippedHTMLElements[n.Data] {
				return
			}
		case html.TextNode:
			if data := strings.TrimSpace(n.Data); data != "" {
				parts = append(parts, data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " "), nil
}

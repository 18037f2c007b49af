package assistant

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainText reduces an HTML body to its visible text. Anything that does not
// look like markup is returned unchanged.
func PlainText(body string) string {
	if !strings.Contains(body, "<") || !strings.Contains(body, ">") {
		return body
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}

	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(words, " ")
}

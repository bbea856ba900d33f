// CLAUDE:SUMMARY Parses a post element's outer HTML into text, permalink, native id and pinned flag with a small attribute-selector matcher.
package detector

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extraction is what ParsePost reads out of one post element.
type Extraction struct {
	Text     string
	HTML     string
	URL      string
	NativeID string
	Pinned   bool
}

var statusPath = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// ParsePost parses the outer HTML of a post element. The text falls back to
// MediaPlaceholder when the post has no text container (media-only posts).
// Relative permalinks are resolved against siteURL.
func ParsePost(fragment string, sel Selectors, siteURL string) (Extraction, error) {
	sel.defaults()

	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return Extraction{}, fmt.Errorf("detector: parse post: %w", err)
	}

	var ex Extraction

	if n := querySelector(doc, sel.PostText); n != nil {
		ex.Text = collectText(n)
		ex.HTML = renderChildren(n)
	}
	if ex.Text == "" {
		ex.Text = MediaPlaceholder
	}

	ex.URL = permalink(doc, siteURL)
	if m := statusPath.FindStringSubmatch(ex.URL); m != nil {
		ex.NativeID = m[1]
	}

	if n := querySelector(doc, sel.SocialContext); n != nil {
		ex.Pinned = strings.Contains(collectText(n), pinnedMarker)
	}

	return ex, nil
}

// permalink is the href of the anchor wrapping the post's <time> element.
func permalink(doc *html.Node, siteURL string) string {
	for _, t := range findAllByTag(doc, atom.Time) {
		for p := t.Parent; p != nil; p = p.Parent {
			if p.Type == html.ElementNode && p.DataAtom == atom.A {
				if href := getAttr(p, "href"); href != "" {
					return absolute(siteURL, href)
				}
				break
			}
		}
	}
	return ""
}

func absolute(base, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// collectText approximates innerText: text nodes, emoji <img alt>, <br> as newline.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Img:
			sb.WriteString(getAttr(n, "alt"))
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			sb.WriteByte('\n')
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}

// querySelector returns the first node (document order) matching a simple
// selector: tag, [attr], [attr=val], tag[attr=val].
func querySelector(root *html.Node, selector string) *html.Node {
	m := parseSimpleSelector(selector)
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if matchesSelector(n, m) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

type simpleSelector struct {
	tag     string
	attrKey string
	attrVal string
}

func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector
	sel = strings.TrimSpace(sel)
	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if eq := strings.IndexByte(attrPart, '='); eq >= 0 {
			s.attrKey = attrPart[:eq]
			s.attrVal = strings.Trim(attrPart[eq+1:], `"'`)
		} else {
			s.attrKey = attrPart
		}
	}
	s.tag = sel
	return s
}

func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.attrKey != "" {
		if !hasAttr(n, s.attrKey) {
			return false
		}
		if s.attrVal != "" && getAttr(n, s.attrKey) != s.attrVal {
			return false
		}
	}
	return s.tag != "" || s.attrKey != ""
}

func findAllByTag(root *html.Node, tag atom.Atom) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

package capture

import (
	"net/url"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	maxTextNodes  = 100
	maxCandidates = 6
)

var skipText = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

// ExtractText joins the page's visible text nodes, one per line. Subtrees
// hidden by markup (hidden, aria-hidden, inline display:none or
// visibility:hidden) are skipped.
func ExtractText(doc *goquery.Document) string {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var texts []string
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		switch n.Type {
		case html.TextNode:
			text := strings.TrimSpace(n.Data)
			if l := utf8.RuneCountInString(text); l > 3 && l < 500 {
				texts = append(texts, text)
			}
			return len(texts) < maxTextNodes
		case html.ElementNode:
			if skipText[n.Data] || hiddenNode(n) {
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	for _, n := range root.Nodes {
		if !walk(n) {
			break
		}
	}
	return strings.Join(texts, "\n")
}

func hiddenNode(n *html.Node) bool {
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "hidden":
			return true
		case "aria-hidden":
			if strings.EqualFold(strings.TrimSpace(a.Val), "true") {
				return true
			}
		case "style":
			style := strings.ToLower(strings.Join(strings.Fields(a.Val), ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

// DiscoverLinks returns up to six same-origin navigation links, excluding
// the base path and fragment links, deduplicated by path.
func DiscoverLinks(doc *goquery.Document, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("nav a, header a, [role='navigation'] a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		u := baseURL.ResolveReference(ref)
		if u.Scheme != baseURL.Scheme || u.Host != baseURL.Host {
			return true
		}
		if u.Fragment != "" {
			return true
		}
		if pathOf(u) == pathOf(baseURL) || seen[pathOf(u)] {
			return true
		}
		seen[pathOf(u)] = true
		links = append(links, u.String())
		return len(links) < maxCandidates
	})
	return links
}

func pathOf(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// Markdown converts page HTML to markdown.
func Markdown(pageHTML, domain string) (string, error) {
	return md.NewConverter(domain, true, nil).ConvertString(pageHTML)
}

package capture

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Rule finds an interstitial control to click in a parsed page.
type Rule struct {
	Name string
	Find func(doc *goquery.Document) *goquery.Selection
}

// SelectorRule matches the first element for a CSS selector.
func SelectorRule(css string) Rule {
	return Rule{
		Name: css,
		Find: func(doc *goquery.Document) *goquery.Selection {
			return doc.Find(css).First()
		},
	}
}

// TextRule matches the first button-like element whose text is phrase or
// contains it as a whole word, ignoring case.
func TextRule(phrase string) Rule {
	want := strings.ToLower(phrase)
	word := regexp.MustCompile(`(?i)(^|[^\pL\pN])` + regexp.QuoteMeta(phrase) + `($|[^\pL\pN])`)
	return Rule{
		Name: "text:" + phrase,
		Find: func(doc *goquery.Document) *goquery.Selection {
			return doc.Find("button, a, [role='button']").FilterFunction(func(_ int, s *goquery.Selection) bool {
				text := strings.ToLower(strings.TrimSpace(s.Text()))
				return text == want || word.MatchString(text)
			}).First()
		},
	}
}

// DefaultRules is the ordered cookie and consent banner rule list.
func DefaultRules() []Rule {
	return []Rule{
		SelectorRule(`[class*="cookie"] button`),
		SelectorRule(`[class*="consent"] button`),
		SelectorRule(`[id*="cookie"] button`),
		SelectorRule(`[id*="consent"] button`),
		SelectorRule(`[class*="Cookie"] button`),
		SelectorRule(`[class*="gdpr"] button`),
		SelectorRule(`button[aria-label*="accept"]`),
		SelectorRule(`button[aria-label*="Accept"]`),
		SelectorRule(`button[aria-label*="agree"]`),
		SelectorRule(`button[aria-label*="cookie"]`),
		SelectorRule(`[class*="banner"] button[class*="accept"]`),
		SelectorRule(`[class*="banner"] button[class*="close"]`),
		SelectorRule(`[class*="modal"] button[class*="accept"]`),
		SelectorRule(`#onetrust-accept-btn-handler`),
		SelectorRule(`.cc-accept`),
		SelectorRule(`.cc-dismiss`),
		SelectorRule(`[data-testid="cookie-accept"]`),
		TextRule("Accept"),
		TextRule("Got it"),
		TextRule("I agree"),
		TextRule("OK"),
	}
}

// Clicker clicks an element by CSS selector.
type Clicker interface {
	Click(ctx context.Context, selector string) (bool, error)
}

// Dismiss evaluates rules in order against doc and clicks the first match
// the browser accepts. It returns the name of the rule that fired, or "".
func Dismiss(ctx context.Context, doc *goquery.Document, rules []Rule, c Clicker) (string, error) {
	for _, rule := range rules {
		sel := rule.Find(doc)
		if sel == nil || sel.Length() == 0 {
			continue
		}
		clicked, err := c.Click(ctx, cssPath(sel))
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if clicked {
			return rule.Name, nil
		}
	}
	return "", nil
}

// cssPath builds a child-index selector that addresses exactly sel's first
// element from the document root.
func cssPath(sel *goquery.Selection) string {
	var parts []string
	for s := sel.First(); s.Length() > 0; s = s.Parent() {
		if s.Get(0).Type != html.ElementNode {
			break
		}
		name := goquery.NodeName(s)
		if s.Parent().Length() == 0 {
			parts = append(parts, name)
			break
		}
		parts = append(parts, name+":nth-child("+strconv.Itoa(s.Index()+1)+")")
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

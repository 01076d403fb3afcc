// internal/browser/selectors.go
package browser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chromedp/chromedp"
)

// textSelectorRegex matches the text='...' (or text="...") selector form.
var textSelectorRegex = regexp.MustCompile(`^text=(?:'(.*)'|"(.*)")$`)

var plainIdentRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// resolvedSelector is a selector translated into something chromedp can query.
type resolvedSelector struct {
	Query string
	XPath bool
}

func (r resolvedSelector) by() chromedp.QueryOption {
	if r.XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// resolveSelector turns CSS selectors into ByQuery lookups and the text='...'
// form into an XPath that matches the innermost element whose normalized text
// equals the given string.
func resolveSelector(selector string) (resolvedSelector, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return resolvedSelector{}, fmt.Errorf("empty selector")
	}
	if m := textSelectorRegex.FindStringSubmatch(selector); m != nil {
		text := m[1]
		if text == "" {
			text = m[2]
		}
		literal := xpathLiteral(strings.TrimSpace(text))
		return resolvedSelector{
			Query: fmt.Sprintf("//*[normalize-space(.)=%s][not(.//*[normalize-space(.)=%s])]", literal, literal),
			XPath: true,
		}, nil
	}
	return resolvedSelector{Query: selector}, nil
}

// xpathLiteral quotes s for XPath 1.0, which has no escape syntax.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

// elementLookupJS is a JS expression yielding the first element for the
// selector, or null.
func elementLookupJS(r resolvedSelector) string {
	q, _ := json.Marshal(r.Query)
	if r.XPath {
		return fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", q)
	}
	return fmt.Sprintf("document.querySelector(%s)", q)
}

// IDSelector builds a CSS selector for an element id, falling back to an
// attribute selector when the id is not a plain identifier.
func IDSelector(id string) string {
	if plainIdentRegex.MatchString(id) {
		return "#" + id
	}
	return fmt.Sprintf(`[id=%s]`, cssString(id))
}

// ClassSelector builds a CSS selector for the first class in a class list.
func ClassSelector(classes string) string {
	fields := strings.Fields(classes)
	if len(fields) == 0 || !plainIdentRegex.MatchString(fields[0]) {
		return ""
	}
	return "." + fields[0]
}

// AttrSelector builds [name='value'] with the value quoted for CSS.
func AttrSelector(name, value string) string {
	return fmt.Sprintf("[%s=%s]", name, cssString(value))
}

// TextSelector builds the text='...' form understood by the session.
func TextSelector(text string) string {
	if strings.Contains(text, "'") {
		return `text="` + strings.ReplaceAll(text, `"`, "") + `"`
	}
	return "text='" + text + "'"
}

func cssString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

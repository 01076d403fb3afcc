// internal/browser/analyzer.go
package browser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

const maxElementText = 200

// jsHelpers is shared by the extraction scripts. Selector rules must stay in
// step with AnalyzeHTML.
const jsHelpers = `
const clean = s => (s || '').replace(/\s+/g, ' ').trim().substring(0, 200);
const ident = /^[A-Za-z_][A-Za-z0-9_-]*$/;
const quote = s => "'" + s.replace(/\\/g, '\\\\').replace(/'/g, "\\'") + "'";
const idSel = id => ident.test(id) ? '#' + id : '[id=' + quote(id) + ']';
const classSel = el => { const c = el.classList[0]; return c && ident.test(c) ? '.' + c : ''; };
const nthSel = el => {
  const parts = [];
  for (let n = el; n && n.nodeType === 1 && n !== document.documentElement; n = n.parentElement) {
    const tag = n.tagName.toLowerCase();
    if (tag === 'body') { parts.unshift('body'); break; }
    let i = 1;
    for (let s = n.previousElementSibling; s; s = s.previousElementSibling) if (s.tagName === n.tagName) i++;
    parts.unshift(tag + ':nth-of-type(' + i + ')');
  }
  return parts.join(' > ');
};
const hiddenStyle = el => { const st = window.getComputedStyle(el); return st.display === 'none' || st.visibility === 'hidden'; };
const visible = el => !hiddenStyle(el) && (el.offsetParent !== null || window.getComputedStyle(el).position === 'fixed');
const labelOf = el => (el.labels && el.labels[0] ? clean(el.labels[0].textContent) : '') || el.getAttribute('aria-label') || el.placeholder || '';
`

const visibleTextScript = `(() => {
  const skip = ['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE'];
  if (!document.body) return '';
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT, null);
  const parts = [];
  let node;
  while ((node = walker.nextNode())) {
    const parent = node.parentElement;
    if (!parent || skip.includes(parent.tagName) || parent.offsetParent === null && parent !== document.body) continue;
    const t = node.textContent.trim();
    if (t) parts.push(t);
  }
  return parts.join(' ');
})()`

const interactiveElementsScript = `(() => {` + jsHelpers + `
  const out = [];
  const push = info => { info.index = out.length; out.push(info); };
  document.querySelectorAll('button, [role="button"]').forEach(el => {
    if (!visible(el)) return;
    push({
      type: 'button',
      tag: el.tagName.toLowerCase(),
      text: clean(el.textContent),
      aria_label: el.getAttribute('aria-label') || '',
      id: el.id || '',
      classes: Array.from(el.classList).join(' '),
      selector: el.id ? idSel(el.id) : (classSel(el) || nthSel(el)),
    });
  });
  document.querySelectorAll('a[href]').forEach(el => {
    if (!visible(el)) return;
    push({
      type: 'link',
      tag: 'a',
      text: clean(el.textContent),
      href: el.href,
      aria_label: el.getAttribute('aria-label') || '',
      id: el.id || '',
      classes: Array.from(el.classList).join(' '),
      selector: el.id ? idSel(el.id) : (classSel(el) || 'a[href=' + quote(el.getAttribute('href')) + ']'),
    });
  });
  document.querySelectorAll('input, textarea, select').forEach(el => {
    if (!visible(el)) return;
    push({
      type: 'input',
      tag: el.tagName.toLowerCase(),
      input_type: el.type || '',
      placeholder: el.placeholder || '',
      aria_label: el.getAttribute('aria-label') || '',
      label: labelOf(el),
      name: el.name || '',
      id: el.id || '',
      classes: Array.from(el.classList).join(' '),
      selector: el.id ? idSel(el.id) : el.name ? '[name=' + quote(el.name) + ']' : (classSel(el) || nthSel(el)),
    });
  });
  return out;
})()`

const modalsScript = `(() => {` + jsHelpers + `
  const modals = [];
  document.querySelectorAll('[role="dialog"], [role="alertdialog"], .modal, [class*="modal"], dialog[open]').forEach(el => {
    if (hiddenStyle(el)) return;
    modals.push({ text: (el.textContent || '').trim().substring(0, 200), role: el.getAttribute('role') || '', id: el.id || '' });
  });
  return modals;
})()`

const formsScript = `(() => {` + jsHelpers + `
  const forms = [];
  document.querySelectorAll('form').forEach(form => {
    if (!visible(form)) return;
    forms.push({
      id: form.id || '',
      action: form.action || '',
      method: form.method || '',
      inputs: Array.from(form.querySelectorAll('input, textarea, select')).map(el => ({
        type: el.type || el.tagName.toLowerCase(),
        name: el.name || '',
        placeholder: el.placeholder || '',
        label: el.labels && el.labels[0] ? clean(el.labels[0].textContent) : '',
      })),
    });
  });
  return forms;
})()`

const readyStateScript = `document.readyState === 'complete'`

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}

// -- Pure Go analysis --

// htmlAnalysis carries the per-document indexes the extraction rules need.
type htmlAnalysis struct {
	tagIndex  map[*html.Node]int
	labelFor  map[string]string
	labelWrap map[*html.Node]string
	hidden    map[*html.Node]bool

	state schemas.PageState
	text  []string
}

// AnalyzeHTML extracts the same page state as the in-browser scripts from raw
// markup. Visibility is approximated from hidden attributes, inline styles and
// hidden inputs since no layout is available.
func AnalyzeHTML(r io.Reader) (*schemas.PageState, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	a := &htmlAnalysis{
		tagIndex:  make(map[*html.Node]int),
		labelFor:  make(map[string]string),
		labelWrap: make(map[*html.Node]string),
		hidden:    make(map[*html.Node]bool),
		state: schemas.PageState{
			InteractiveElements: []schemas.ElementInfo{},
			ModalsOpen:          []schemas.ModalInfo{},
			FormsPresent:        []schemas.FormInfo{},
		},
	}
	a.index(doc, false)

	var buttons, links, inputs []schemas.ElementInfo
	walkElements(doc, func(n *html.Node) {
		if n.DataAtom == atom.Title && a.state.Title == "" {
			a.state.Title = strings.TrimSpace(textContent(n))
		}
		if a.hidden[n] {
			return
		}
		if n.DataAtom == atom.Button || attr(n, "role") == "button" {
			buttons = append(buttons, a.button(n))
		}
		if n.DataAtom == atom.A && hasAttr(n, "href") {
			links = append(links, a.link(n))
		}
		if isFormControl(n) {
			inputs = append(inputs, a.input(n))
		}
		if isModal(n) {
			a.state.ModalsOpen = append(a.state.ModalsOpen, schemas.ModalInfo{
				Text: truncateRunes(strings.TrimSpace(textContent(n)), maxElementText),
				Role: attr(n, "role"),
				ID:   attr(n, "id"),
			})
		}
		if n.DataAtom == atom.Form {
			a.state.FormsPresent = append(a.state.FormsPresent, a.form(n))
		}
	})

	for _, group := range [][]schemas.ElementInfo{buttons, links, inputs} {
		for _, el := range group {
			el.Index = len(a.state.InteractiveElements)
			a.state.InteractiveElements = append(a.state.InteractiveElements, el)
		}
	}
	a.collectText(findBody(doc))
	a.state.VisibleText = truncateRunes(strings.Join(a.text, " "), schemas.MaxVisibleText)
	a.state.PageLoaded = true
	return &a.state, nil
}

// index records sibling positions, label associations and inherited visibility.
func (a *htmlAnalysis) index(n *html.Node, parentHidden bool) {
	hidden := parentHidden
	if n.Type == html.ElementNode {
		hidden = hidden || hiddenSelf(n)
		a.hidden[n] = hidden
		a.tagIndex[n] = 1
		for s := n.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode && s.Data == n.Data {
				a.tagIndex[n]++
			}
		}

		if n.DataAtom == atom.Label {
			text := cleanText(textContent(n))
			if forID := attr(n, "for"); forID != "" {
				if _, seen := a.labelFor[forID]; !seen {
					a.labelFor[forID] = text
				}
			} else if control := firstDescendant(n, isFormControl); control != nil {
				a.labelWrap[control] = text
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		a.index(c, hidden)
	}
}

// nthSelector builds a child-combinator path from body down to n.
func (a *htmlAnalysis) nthSelector(n *html.Node) string {
	var parts []string
	for c := n; c != nil && c.Type == html.ElementNode && c.DataAtom != atom.Html; c = c.Parent {
		if c.DataAtom == atom.Body {
			parts = append(parts, "body")
			break
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", c.Data, a.tagIndex[c]))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func (a *htmlAnalysis) button(n *html.Node) schemas.ElementInfo {
	id, classes := attr(n, "id"), attr(n, "class")
	sel := ""
	switch {
	case id != "":
		sel = IDSelector(id)
	case ClassSelector(classes) != "":
		sel = ClassSelector(classes)
	default:
		sel = a.nthSelector(n)
	}
	return schemas.ElementInfo{
		Type:      "button",
		Tag:       n.Data,
		Text:      cleanText(textContent(n)),
		AriaLabel: attr(n, "aria-label"),
		ID:        id,
		Classes:   strings.Join(strings.Fields(classes), " "),
		Selector:  sel,
	}
}

func (a *htmlAnalysis) link(n *html.Node) schemas.ElementInfo {
	id, classes, href := attr(n, "id"), attr(n, "class"), attr(n, "href")
	sel := ""
	switch {
	case id != "":
		sel = IDSelector(id)
	case ClassSelector(classes) != "":
		sel = ClassSelector(classes)
	default:
		sel = "a" + AttrSelector("href", href)
	}
	return schemas.ElementInfo{
		Type:      "link",
		Tag:       "a",
		Text:      cleanText(textContent(n)),
		Href:      href,
		AriaLabel: attr(n, "aria-label"),
		ID:        id,
		Classes:   strings.Join(strings.Fields(classes), " "),
		Selector:  sel,
	}
}

func (a *htmlAnalysis) input(n *html.Node) schemas.ElementInfo {
	id, name, classes := attr(n, "id"), attr(n, "name"), attr(n, "class")
	sel := ""
	switch {
	case id != "":
		sel = IDSelector(id)
	case name != "":
		sel = AttrSelector("name", name)
	case ClassSelector(classes) != "":
		sel = ClassSelector(classes)
	default:
		sel = a.nthSelector(n)
	}

	label := a.labelText(n)
	if label == "" {
		label = attr(n, "aria-label")
	}
	if label == "" {
		label = attr(n, "placeholder")
	}
	return schemas.ElementInfo{
		Type:        "input",
		Tag:         n.Data,
		InputType:   controlType(n),
		Placeholder: attr(n, "placeholder"),
		AriaLabel:   attr(n, "aria-label"),
		Label:       label,
		Name:        name,
		ID:          id,
		Classes:     strings.Join(strings.Fields(classes), " "),
		Selector:    sel,
	}
}

func (a *htmlAnalysis) labelText(n *html.Node) string {
	if id := attr(n, "id"); id != "" {
		if text, ok := a.labelFor[id]; ok {
			return text
		}
	}
	return a.labelWrap[n]
}

func (a *htmlAnalysis) form(n *html.Node) schemas.FormInfo {
	method := strings.ToLower(attr(n, "method"))
	if method == "" {
		method = "get"
	}
	info := schemas.FormInfo{ID: attr(n, "id"), Action: attr(n, "action"), Method: method, Inputs: []schemas.FormField{}}
	walkElements(n, func(c *html.Node) {
		if !isFormControl(c) {
			return
		}
		info.Inputs = append(info.Inputs, schemas.FormField{
			Type:        controlType(c),
			Name:        attr(c, "name"),
			Placeholder: attr(c, "placeholder"),
			Label:       a.labelText(c),
		})
	})
	return info
}

func (a *htmlAnalysis) collectText(n *html.Node) {
	if n == nil {
		return
	}
	if n.Type == html.ElementNode && (a.hidden[n] || skipTextElement(n)) {
		return
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			a.text = append(a.text, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		a.collectText(c)
	}
}

// -- html.Node helpers --

func walkElements(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			fn(c)
		}
		walkElements(c, fn)
	}
}

func firstDescendant(n *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walkElements(n, func(c *html.Node) {
		if found == nil && match(c) {
			found = c
		}
	})
	return found
}

func findBody(doc *html.Node) *html.Node {
	return firstDescendant(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
}

func attr(n *html.Node, key string) string {
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

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func cleanText(s string) string {
	return truncateRunes(strings.Join(strings.Fields(s), " "), maxElementText)
}

func isFormControl(n *html.Node) bool {
	return n.DataAtom == atom.Input || n.DataAtom == atom.Textarea || n.DataAtom == atom.Select
}

// controlType mirrors the DOM's HTMLInputElement.type et al.
func controlType(n *html.Node) string {
	switch n.DataAtom {
	case atom.Textarea:
		return "textarea"
	case atom.Select:
		if hasAttr(n, "multiple") {
			return "select-multiple"
		}
		return "select-one"
	default:
		if t := strings.ToLower(attr(n, "type")); t != "" {
			return t
		}
		return "text"
	}
}

func isModal(n *html.Node) bool {
	role := attr(n, "role")
	if role == "dialog" || role == "alertdialog" {
		return true
	}
	if n.DataAtom == atom.Dialog && hasAttr(n, "open") {
		return true
	}
	return strings.Contains(attr(n, "class"), "modal")
}

func skipTextElement(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
		return true
	}
	return false
}

// hiddenSelf reports whether the element itself is not rendered.
func hiddenSelf(n *html.Node) bool {
	if skipTextElement(n) || hasAttr(n, "hidden") {
		return true
	}
	if n.DataAtom == atom.Input && strings.EqualFold(attr(n, "type"), "hidden") {
		return true
	}
	if n.DataAtom == atom.Dialog && !hasAttr(n, "open") {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(attr(n, "style"), " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

package cssmerge

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/dom"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PseudoAttr prefixes the marker attribute of synthesized pseudo-elements.
const PseudoAttr = "data-inkwell-pseudo-"

var reservedClassPrefixes = []string{"appmsg_", "wx_", "wx-", "common-webchat", "weui-"}

var pseudoRe = regexp.MustCompile(`::(before|after)`)

func normalizeSelector(sel string) (base, pseudo string) {
	m := pseudoRe.FindStringSubmatch(sel)
	if m == nil {
		return sel, ""
	}
	return strings.TrimSpace(pseudoRe.ReplaceAllString(sel, "")), m[1]
}

func (t *Table) compile() []compiledRule {
	t.compileOnce.Do(func() {
		t.compiled = make([]compiledRule, 0, len(t.order))
		for _, sel := range t.order {
			base, pseudo := normalizeSelector(sel)
			c := compiledRule{rule: t.rules[sel], pseudo: pseudo}
			c.sel, c.err = cascadia.Parse(base)
			t.compiled = append(t.compiled, c)
		}
	})
	return t.compiled
}

// Apply writes the table onto root and its element descendants as inline
// styles. A selector the matcher cannot handle is logged and skipped.
func (t *Table) Apply(root *html.Node, log *slog.Logger) {
	if root == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	rules := t.compile()
	for _, c := range rules {
		if c.err != nil {
			log.Debug("cssmerge: unsupported selector",
				slog.String("selector", c.rule.Selector), slog.String("error", c.err.Error()))
		}
	}
	t.applyNode(root, rules)
}

func (t *Table) applyNode(n *html.Node, rules []compiledRule) {
	if n.Type == html.ElementNode {
		for _, c := range rules {
			if c.err != nil || !c.sel.Match(n) {
				continue
			}
			target := n
			if c.pseudo != "" {
				content, _ := c.rule.Get("content")
				target = ensurePseudo(n, c.pseudo, content.Value)
			}
			for _, prop := range c.rule.props {
				if prop == "content" {
					continue
				}
				d := c.rule.decls[prop]
				value := ResolveVar(d.Value, t.vars)
				if d.Important {
					value += " !important"
				}
				SetStyle(target, prop, value)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			t.applyNode(c, rules)
		}
	}
}

// ensurePseudo returns the span standing in for n::before or n::after,
// creating it as the first or last child when missing.
func ensurePseudo(n *html.Node, pseudo, content string) *html.Node {
	attr := PseudoAttr + pseudo
	var el *html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasAttr(c, attr) {
			el = c
			break
		}
	}
	if el == nil {
		el = &html.Node{
			Type: html.ElementNode, Data: "span", DataAtom: atom.Span,
			Attr: []html.Attribute{{Key: attr, Val: "true"}},
		}
		if pseudo == "before" {
			n.InsertBefore(el, n.FirstChild)
		} else {
			n.AppendChild(el)
		}
	}
	if content != "" {
		for el.FirstChild != nil {
			el.RemoveChild(el.FirstChild)
		}
		el.AppendChild(&html.Node{Type: html.TextNode, Data: unquote(content)})
	}
	return el
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return strings.Trim(s, `"`)
}

// RemoveClassNames strips every class from root and its descendants except
// those the WeChat editor reserves.
func RemoveClassNames(root *html.Node) {
	if root == nil {
		return
	}
	if root.Type == html.ElementNode {
		var keep []string
		for _, c := range strings.Fields(dom.GetAttributeOr(root, "class", "")) {
			if isReserved(c) {
				keep = append(keep, c)
			}
		}
		if len(keep) == 0 {
			removeAttr(root, "class")
		} else {
			setAttr(root, "class", strings.Join(keep, " "))
		}
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		RemoveClassNames(c)
	}
}

func isReserved(class string) bool {
	for _, p := range reservedClassPrefixes {
		if strings.HasPrefix(class, p) {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" || a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}
